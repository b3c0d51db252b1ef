package hashcodec

import "testing"

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("acgtacgt"))
	b := Sum([]byte("acgtacgt"))
	if a != b {
		t.Fatalf("Sum not deterministic: %s != %s", a, b)
	}
}

func TestSumDistinguishesInput(t *testing.T) {
	a := Sum([]byte("acgt"))
	b := Sum([]byte("acgg"))
	if a == b {
		t.Fatal("expected distinct hashes for distinct input")
	}
}

func TestHashStringParseRoundTrip(t *testing.T) {
	h := Sum([]byte("sequence data"))
	s := h.String()
	parsed, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %s, want %s", parsed, h)
	}
}

func TestParseHashRejectsBadLength(t *testing.T) {
	if _, err := ParseHash("abcd"); err == nil {
		t.Fatal("expected error for short hex string")
	}
}

func TestParseHashRejectsNonHex(t *testing.T) {
	bad := make([]byte, Size*2)
	for i := range bad {
		bad[i] = 'z'
	}
	if _, err := ParseHash(string(bad)); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}

func TestHashIsZero(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if Sum([]byte("x")).IsZero() {
		t.Fatal("non-zero hash reported IsZero")
	}
}

func TestHashBinaryMarshalRoundTrip(t *testing.T) {
	h := Sum([]byte("round trip via binary marshaling"))
	data, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Hash
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %s, want %s", got, h)
	}
}

func TestHashTextMarshalRoundTrip(t *testing.T) {
	h := Sum([]byte("round trip via text marshaling"))
	text, err := h.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got Hash
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %s, want %s", got, h)
	}
}
