// Package blob defines the Blob Store contract: a content-addressed
// key-value store from hashcodec.Hash to raw (uncompressed) bytes.
//
// Two implementations exist: memstore, for tests and small scratch
// repositories, and boltstore, backed by an embedded ordered key-value
// database plus an optional secondary directory for large blobs. Both
// satisfy Store and are exercised by the shared conformance suite in
// internal/blob/storetest.
package blob

import (
	"errors"
	"fmt"

	"talaria/internal/hashcodec"
)

// ErrNotFound is returned by Get when no blob is stored under the given hash.
var ErrNotFound = errors.New("blob: not found")

// ErrCorrupted is returned by Get or VerifyAll when a stored blob's
// rehashed content disagrees with its key.
var ErrCorrupted = errors.New("blob: corrupted")

// VerificationError describes one integrity violation found by VerifyAll.
type VerificationError struct {
	Hash hashcodec.Hash
	Err  error
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("blob %s: %v", e.Hash, e.Err)
}

func (e VerificationError) Unwrap() error { return e.Err }

// Store is the content-addressed blob store contract.
type Store interface {
	// Put computes the hash of the uncompressed bytes, stores the chosen
	// codec frame, and returns the hash. Putting an already-stored hash
	// is a no-op and is free.
	Put(data []byte, compress bool) (hashcodec.Hash, error)

	// PutMany is the batch form of Put. Implementations must make this at
	// least as fast as calling Put sequentially on bulk loads.
	PutMany(items [][]byte, compress bool) ([]hashcodec.Hash, error)

	// Get returns the uncompressed bytes stored under hash. Returns
	// ErrNotFound if absent, ErrCorrupted if the rehashed content
	// disagrees with hash.
	Get(hash hashcodec.Hash) ([]byte, error)

	// Has reports whether hash is present, without decoding its content.
	Has(hash hashcodec.Hash) (bool, error)

	// Remove deletes the blob stored under hash, if present. The caller
	// is responsible for reference counting; Remove does not check
	// manifest references.
	Remove(hash hashcodec.Hash) error

	// VerifyAll re-hashes every stored blob and reports every integrity
	// violation found.
	VerifyAll() ([]VerificationError, error)

	// All returns every hash currently stored. Used by garbage collection
	// and referential-integrity checks to find blobs no manifest points
	// to.
	All() ([]hashcodec.Hash, error)
}
