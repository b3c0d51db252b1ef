// Package storetest provides a shared conformance test suite for
// blob.Store implementations. Each backend (memstore, boltstore) wires
// this suite to verify it satisfies the full Store contract.
package storetest

import (
	"bytes"
	"errors"
	"testing"

	"talaria/internal/blob"
	"talaria/internal/hashcodec"
)

// TestStore runs the full conformance suite against a Store
// implementation. newStore must return a fresh, empty store for each
// sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) blob.Store) {
	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		data := []byte("acgtacgtacgtacgt")

		h, err := s.Put(data, false)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if h != hashcodec.Sum(data) {
			t.Fatalf("Put returned hash %s, want content hash %s", h, hashcodec.Sum(data))
		}

		got, err := s.Get(h)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("Get returned %q, want %q", got, data)
		}
	})

	t.Run("PutGetCompressed", func(t *testing.T) {
		s := newStore(t)
		data := bytes.Repeat([]byte("repetitive-sequence-data-"), 500)

		h, err := s.Put(data, true)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(h)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("compressed round trip mismatch")
		}
	})

	t.Run("PutDuplicateIsNoOp", func(t *testing.T) {
		s := newStore(t)
		data := []byte("same bytes twice")

		h1, err := s.Put(data, false)
		if err != nil {
			t.Fatalf("first Put: %v", err)
		}
		h2, err := s.Put(data, false)
		if err != nil {
			t.Fatalf("second Put: %v", err)
		}
		if h1 != h2 {
			t.Fatalf("expected same hash for identical bytes: %s != %s", h1, h2)
		}
	})

	t.Run("PutManyMatchesSequentialPut", func(t *testing.T) {
		s := newStore(t)
		items := [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("two")}

		hashes, err := s.PutMany(items, false)
		if err != nil {
			t.Fatalf("PutMany: %v", err)
		}
		if len(hashes) != len(items) {
			t.Fatalf("expected %d hashes, got %d", len(items), len(hashes))
		}
		if hashes[1] != hashes[3] {
			t.Fatal("expected identical items to produce identical hashes")
		}
		for i, data := range items {
			got, err := s.Get(hashes[i])
			if err != nil {
				t.Fatalf("Get(%d): %v", i, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("Get(%d) = %q, want %q", i, got, data)
			}
		}
	})

	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(hashcodec.Sum([]byte("never stored")))
		if !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("HasReportsPresenceAccurately", func(t *testing.T) {
		s := newStore(t)
		data := []byte("present")
		h, err := s.Put(data, false)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}

		has, err := s.Has(h)
		if err != nil {
			t.Fatalf("Has(present): %v", err)
		}
		if !has {
			t.Fatal("expected Has to report true for stored hash")
		}

		has, err = s.Has(hashcodec.Sum([]byte("absent")))
		if err != nil {
			t.Fatalf("Has(absent): %v", err)
		}
		if has {
			t.Fatal("expected Has to report false for unstored hash")
		}
	})

	t.Run("RemoveDeletesBlob", func(t *testing.T) {
		s := newStore(t)
		h, err := s.Put([]byte("to be removed"), false)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Remove(h); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := s.Get(h); !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after Remove, got %v", err)
		}
	})

	t.Run("RemoveMissingIsNotAnError", func(t *testing.T) {
		s := newStore(t)
		if err := s.Remove(hashcodec.Sum([]byte("never stored"))); err != nil {
			t.Fatalf("Remove on absent hash: %v", err)
		}
	})

	t.Run("VerifyAllCleanStoreReportsNothing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Put([]byte("clean blob one"), false); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := s.Put([]byte("clean blob two"), true); err != nil {
			t.Fatalf("Put: %v", err)
		}
		problems, err := s.VerifyAll()
		if err != nil {
			t.Fatalf("VerifyAll: %v", err)
		}
		if len(problems) != 0 {
			t.Fatalf("expected no verification problems, got %v", problems)
		}
	})

	t.Run("EmptyBlobRoundTrips", func(t *testing.T) {
		s := newStore(t)
		h, err := s.Put(nil, false)
		if err != nil {
			t.Fatalf("Put(nil): %v", err)
		}
		got, err := s.Get(h)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty blob, got %d bytes", len(got))
		}
	})
}
