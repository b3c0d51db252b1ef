package main

import (
	"bufio"
	"fmt"
	"os"

	"talaria/internal/sequence"
)

// wholeFileSourceFactory is the SourceFactory this binary wires into the
// downloader. A real FASTA parser is out of scope here, same as in
// internal/repo; this stands in for it exactly the way the download
// package's own tests do, treating every downloaded artifact as a single
// opaque sequence with the fixed ID "artifact". The decompressed file is
// read when one was produced, otherwise the artifact itself.
func wholeFileSourceFactory(artifactPath, decompressedPath string) (sequence.Source, error) {
	path := artifactPath
	if decompressedPath != "" {
		path = decompressedPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return sequence.NewSliceSource([]sequence.Sequence{
		{ID: "artifact", Residues: data},
	}), nil
}

// textSink writes a plain tab-separated id/length/taxon/description line
// per sequence to w ("-" for an empty description). The
// real FASTA writer every exported sequence eventually feeds is, like the
// parser, an out-of-scope collaborator; this is only a human-readable
// administrative summary.
type textSink struct {
	w *bufio.Writer
}

func newTextSink(w *bufio.Writer) *textSink {
	return &textSink{w: w}
}

func (s *textSink) Write(seq sequence.Sequence) error {
	desc := seq.Description
	if desc == "" {
		desc = "-"
	}
	_, err := fmt.Fprintf(s.w, "%s\t%d\t%d\t%s\n", seq.ID, seq.Len(), seq.Taxon, desc)
	return err
}

func (s *textSink) Flush() error {
	return s.w.Flush()
}
