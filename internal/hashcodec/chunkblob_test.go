package hashcodec

import (
	"testing"

	"talaria/internal/sequence"
)

func sampleSequences() []sequence.Sequence {
	return []sequence.Sequence{
		{ID: "seq1", Description: "first sequence", Residues: []byte("ACGTACGT"), Taxon: 9606},
		{ID: "seq2", Description: "", Residues: []byte("TTTT"), Taxon: 0},
		{ID: "seq3", Description: "with unicode dèscription", Residues: []byte("GGGGCCCC"), Taxon: 562},
	}
}

func TestChunkBlobRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecRaw, CodecZstd, CodecGzip} {
		seqs := sampleSequences()
		blob, err := EncodeChunkBlob(seqs, codec, 3)
		if err != nil {
			t.Fatalf("EncodeChunkBlob(%v): %v", codec, err)
		}

		got, gotCodec, err := DecodeChunkBlob(blob)
		if err != nil {
			t.Fatalf("DecodeChunkBlob(%v): %v", codec, err)
		}
		if gotCodec != codec {
			t.Fatalf("codec mismatch: got %v, want %v", gotCodec, codec)
		}
		if len(got) != len(seqs) {
			t.Fatalf("sequence count mismatch: got %d, want %d", len(got), len(seqs))
		}
		for i := range seqs {
			if got[i].ID != seqs[i].ID ||
				got[i].Description != seqs[i].Description ||
				got[i].Taxon != seqs[i].Taxon ||
				string(got[i].Residues) != string(seqs[i].Residues) {
				t.Fatalf("sequence %d mismatch: got %+v, want %+v", i, got[i], seqs[i])
			}
		}
	}
}

func TestChunkBlobEmpty(t *testing.T) {
	blob, err := EncodeChunkBlob(nil, CodecRaw, 0)
	if err != nil {
		t.Fatalf("EncodeChunkBlob(nil): %v", err)
	}
	got, _, err := DecodeChunkBlob(blob)
	if err != nil {
		t.Fatalf("DecodeChunkBlob: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 sequences, got %d", len(got))
	}
}

func TestChunkBlobHasMagicAndVersion(t *testing.T) {
	blob, err := EncodeChunkBlob(sampleSequences(), CodecZstd, 3)
	if err != nil {
		t.Fatalf("EncodeChunkBlob: %v", err)
	}
	if string(blob[:3]) != "CHK" {
		t.Fatalf("bad magic: %q", blob[:3])
	}
	if blob[3] != chunkBlobVersion {
		t.Fatalf("bad version byte: %#02x", blob[3])
	}
	if blob[4] != byte(CodecZstd) {
		t.Fatalf("bad codec byte: %#02x", blob[4])
	}
}

func TestDecodeChunkBlobRejectsBadMagic(t *testing.T) {
	if _, _, err := DecodeChunkBlob([]byte("XXX\x01\x00")); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeChunkBlobRejectsBadVersion(t *testing.T) {
	blob, err := EncodeChunkBlob(sampleSequences(), CodecRaw, 0)
	if err != nil {
		t.Fatalf("EncodeChunkBlob: %v", err)
	}
	blob[3] = 0x99
	if _, _, err := DecodeChunkBlob(blob); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestDecodeChunkBlobRejectsTruncated(t *testing.T) {
	blob, err := EncodeChunkBlob(sampleSequences(), CodecRaw, 0)
	if err != nil {
		t.Fatalf("EncodeChunkBlob: %v", err)
	}
	if _, _, err := DecodeChunkBlob(blob[:len(blob)-1]); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestHashIncludesFullStoredForm(t *testing.T) {
	rawBlob, err := EncodeChunkBlob(sampleSequences(), CodecRaw, 0)
	if err != nil {
		t.Fatalf("EncodeChunkBlob raw: %v", err)
	}
	zstdBlob, err := EncodeChunkBlob(sampleSequences(), CodecZstd, 3)
	if err != nil {
		t.Fatalf("EncodeChunkBlob zstd: %v", err)
	}
	if Sum(rawBlob) == Sum(zstdBlob) {
		t.Fatal("hashes of differently-codec'd blobs should differ")
	}
}
