package main

import (
	"bufio"
	"bytes"
	"testing"

	"talaria/internal/sequence"
)

func TestTextSinkWritesTabSeparatedSummary(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	sink := newTextSink(w)

	if err := sink.Write(sequence.Sequence{ID: "seq1", Residues: []byte("ACGT"), Taxon: 9606, Description: "human"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(sequence.Sequence{ID: "seq2", Residues: []byte("AC")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := "seq1\t4\t9606\thuman\nseq2\t2\t0\t-\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}
