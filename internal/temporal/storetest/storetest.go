// Package storetest provides a shared conformance test suite for
// temporal.Index implementations.
package storetest

import (
	"errors"
	"testing"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/temporal"
)

func at(seq, tax string) manifest.Coordinate {
	seqT, err := time.Parse(time.RFC3339, seq)
	if err != nil {
		panic(err)
	}
	taxT, err := time.Parse(time.RFC3339, tax)
	if err != nil {
		panic(err)
	}
	return manifest.Coordinate{SequenceTime: seqT, TaxonomyTime: taxT}
}

func hashOf(s string) hashcodec.Hash {
	return hashcodec.Sum([]byte(s))
}

// TestIndex runs the full conformance suite against a temporal.Index
// implementation. newIndex must return a fresh, empty index for each
// sub-test.
func TestIndex(t *testing.T, newIndex func(t *testing.T) temporal.Index) {
	t.Run("QueryAtEmptyIndexReturnsErrNoSnapshot", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.QueryAt(at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"))
		if !errors.Is(err, temporal.ErrNoSnapshot) {
			t.Fatalf("QueryAt on empty index: got %v, want ErrNoSnapshot", err)
		}
	})

	t.Run("CommitThenQueryAtExactCoordinate", func(t *testing.T) {
		idx := newIndex(t)
		coord := at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
		h := hashOf("snapshot one")
		if err := idx.Commit(coord, h); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		snap, err := idx.QueryAt(coord)
		if err != nil {
			t.Fatalf("QueryAt: %v", err)
		}
		if snap.Hash != h {
			t.Fatalf("QueryAt hash = %s, want %s", snap.Hash, h)
		}
	})

	t.Run("RecommittingSameHashIsNoOp", func(t *testing.T) {
		idx := newIndex(t)
		coord := at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
		h := hashOf("snapshot one")
		if err := idx.Commit(coord, h); err != nil {
			t.Fatalf("first Commit: %v", err)
		}
		if err := idx.Commit(coord, h); err != nil {
			t.Fatalf("second Commit with same hash should be a no-op, got: %v", err)
		}
	})

	t.Run("RecommittingDifferentHashIsRejected", func(t *testing.T) {
		idx := newIndex(t)
		coord := at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
		if err := idx.Commit(coord, hashOf("first")); err != nil {
			t.Fatalf("first Commit: %v", err)
		}
		err := idx.Commit(coord, hashOf("second"))
		if !errors.Is(err, temporal.ErrCoordinateRecommitted) {
			t.Fatalf("re-commit with different hash: got %v, want ErrCoordinateRecommitted", err)
		}
	})

	t.Run("QueryAtReturnsGreatestCommittedAtOrBeforeQuery", func(t *testing.T) {
		idx := newIndex(t)
		hOld := hashOf("old")
		hNew := hashOf("new")
		if err := idx.Commit(at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"), hOld); err != nil {
			t.Fatalf("Commit old: %v", err)
		}
		if err := idx.Commit(at("2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z"), hNew); err != nil {
			t.Fatalf("Commit new: %v", err)
		}

		snap, err := idx.QueryAt(at("2024-12-01T00:00:00Z", "2024-12-01T00:00:00Z"))
		if err != nil {
			t.Fatalf("QueryAt: %v", err)
		}
		if snap.Hash != hNew {
			t.Fatalf("QueryAt(after both) = %s, want %s (newest)", snap.Hash, hNew)
		}

		snap, err = idx.QueryAt(at("2024-03-01T00:00:00Z", "2024-03-01T00:00:00Z"))
		if err != nil {
			t.Fatalf("QueryAt: %v", err)
		}
		if snap.Hash != hOld {
			t.Fatalf("QueryAt(between) = %s, want %s (oldest)", snap.Hash, hOld)
		}
	})

	t.Run("QueryAtBeforeAnyCommitReturnsErrNoSnapshot", func(t *testing.T) {
		idx := newIndex(t)
		if err := idx.Commit(at("2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z"), hashOf("x")); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		_, err := idx.QueryAt(at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"))
		if !errors.Is(err, temporal.ErrNoSnapshot) {
			t.Fatalf("QueryAt before any commit: got %v, want ErrNoSnapshot", err)
		}
	})

	// A query whose sequence time is far ahead of a commit but whose
	// taxonomy time is behind it must not match: both components have to
	// dominate independently, not just the encoded composite key.
	t.Run("QueryAtRequiresComponentwiseDominance", func(t *testing.T) {
		idx := newIndex(t)
		hEarly := hashOf("early-seq-late-tax")
		if err := idx.Commit(at("2024-01-01T00:00:00Z", "2024-12-01T00:00:00Z"), hEarly); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		_, err := idx.QueryAt(at("2024-06-01T00:00:00Z", "2024-06-01T00:00:00Z"))
		if !errors.Is(err, temporal.ErrNoSnapshot) {
			t.Fatalf("query with tax time before the only commit's tax time: got %v, want ErrNoSnapshot", err)
		}

		snap, err := idx.QueryAt(at("2024-06-01T00:00:00Z", "2025-01-01T00:00:00Z"))
		if err != nil {
			t.Fatalf("QueryAt: %v", err)
		}
		if snap.Hash != hEarly {
			t.Fatalf("QueryAt dominating both components = %s, want %s", snap.Hash, hEarly)
		}
	})

	t.Run("HistoryOrdersMostRecentFirstAndRespectsLimit", func(t *testing.T) {
		idx := newIndex(t)
		h1, h2, h3 := hashOf("one"), hashOf("two"), hashOf("three")
		if err := idx.Commit(at("2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"), h1); err != nil {
			t.Fatalf("Commit 1: %v", err)
		}
		if err := idx.Commit(at("2024-02-01T00:00:00Z", "2024-02-01T00:00:00Z"), h2); err != nil {
			t.Fatalf("Commit 2: %v", err)
		}
		if err := idx.Commit(at("2024-03-01T00:00:00Z", "2024-03-01T00:00:00Z"), h3); err != nil {
			t.Fatalf("Commit 3: %v", err)
		}

		all, err := idx.History(0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("History(0) returned %d entries, want 3", len(all))
		}
		if all[0].Hash != h3 || all[1].Hash != h2 || all[2].Hash != h1 {
			t.Fatalf("History(0) order = %v, want [three two one]", all)
		}

		limited, err := idx.History(2)
		if err != nil {
			t.Fatalf("History(2): %v", err)
		}
		if len(limited) != 2 || limited[0].Hash != h3 || limited[1].Hash != h2 {
			t.Fatalf("History(2) = %v, want [three two]", limited)
		}
	})

	t.Run("HistoryOnEmptyIndexReturnsNone", func(t *testing.T) {
		idx := newIndex(t)
		got, err := idx.History(0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("History on empty index = %v, want none", got)
		}
	})
}
