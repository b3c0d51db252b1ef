package hashcodec

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	codecs := []Codec{CodecRaw, CodecZstd, CodecGzip}
	payloads := [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("acgtacgtacgtacgtacgtacgtacgtacgt"),
		bytes.Repeat([]byte("repetitive-sequence-data-"), 1000),
	}

	for _, codec := range codecs {
		for _, payload := range payloads {
			framed, err := Compress(payload, codec, 3)
			if err != nil {
				t.Fatalf("Compress(%v, level 3): %v", codec, err)
			}
			got, err := Decompress(framed)
			if err != nil {
				t.Fatalf("Decompress after %v: %v", codec, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("%v round trip mismatch: got %q, want %q", codec, got, payload)
			}
		}
	}
}

func TestDecompressUnknownCodec(t *testing.T) {
	_, err := Decompress([]byte{0xff, 1, 2, 3})
	if err == nil {
		t.Fatal("expected error for unknown codec tag")
	}
}

func TestDecompressTruncated(t *testing.T) {
	if _, err := Decompress(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestCodecStringKnown(t *testing.T) {
	for codec, want := range map[Codec]string{
		CodecRaw:  "raw",
		CodecZstd: "zstd",
		CodecGzip: "gzip",
	} {
		if got := codec.String(); got != want {
			t.Fatalf("Codec(%d).String() = %q, want %q", codec, got, want)
		}
	}
}
