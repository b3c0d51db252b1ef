// Package hashcodec implements the content-addressing primitives shared by
// every storage component: the canonical hash function, the compression
// framing applied to stored bytes, and the binary layout of a chunk blob.
package hashcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Hash is a 256-bit content digest. The zero Hash never names real content;
// it is used as a sentinel for "absent".
type Hash [Size]byte

// Sum computes the canonical hash of b.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// IsZero reports whether h is the zero Hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the lowercase hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler so Hash round-trips through
// JSON as a hex string rather than a byte array. MessagePack uses
// MarshalBinary instead.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler, used by the
// MessagePack encoder to store a Hash as a compact bin value instead of a
// 32-element array.
func (h Hash) MarshalBinary() ([]byte, error) {
	return h[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidHash, Size, len(data))
	}
	copy(h[:], data)
	return nil
}

// ErrInvalidHash is returned by ParseHash for malformed input.
var ErrInvalidHash = errors.New("hashcodec: invalid hash")

// ParseHash decodes a lowercase or uppercase hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	if len(s) != Size*2 {
		return Hash{}, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidHash, Size*2, len(s))
	}
	var h Hash
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return h, nil
}
