// Package storetest provides a shared conformance test suite for
// manifest.Store implementations.
package storetest

import (
	"errors"
	"testing"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
)

// TestStore runs the full conformance suite against a Store
// implementation. newStore must return a fresh, empty store for each
// sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) manifest.Store) {
	ref := manifest.DatasetRef{Source: "uniprot", Dataset: "swissprot"}

	t.Run("PutGetChunkRoundTrip", func(t *testing.T) {
		s := newStore(t)
		c := manifest.Chunk{
			Hash:          hashcodec.Sum([]byte("chunk bytes")),
			Size:          1024,
			SequenceCount: 3,
			TaxonIDs:      []uint32{9606, 562},
		}
		h, err := s.PutChunk(c)
		if err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
		got, err := s.GetChunk(h)
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if got.Size != c.Size || got.SequenceCount != c.SequenceCount {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	})

	t.Run("PutChunkDuplicateIsNoOp", func(t *testing.T) {
		s := newStore(t)
		c := manifest.Chunk{Hash: hashcodec.Sum([]byte("x")), Size: 10}
		h1, err := s.PutChunk(c)
		if err != nil {
			t.Fatalf("first PutChunk: %v", err)
		}
		h2, err := s.PutChunk(c)
		if err != nil {
			t.Fatalf("second PutChunk: %v", err)
		}
		if h1 != h2 {
			t.Fatalf("expected identical hash for identical manifest: %s != %s", h1, h2)
		}
	})

	t.Run("GetChunkMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetChunk(hashcodec.Sum([]byte("never stored")))
		if !errors.Is(err, manifest.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AllChunksReturnsEveryStoredChunk", func(t *testing.T) {
		s := newStore(t)
		c1 := manifest.Chunk{Hash: hashcodec.Sum([]byte("chunk one")), Size: 10}
		c2 := manifest.Chunk{Hash: hashcodec.Sum([]byte("chunk two")), Size: 20}
		_, err := s.PutChunk(c1)
		if err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
		_, err = s.PutChunk(c2)
		if err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
		all, err := s.AllChunks()
		if err != nil {
			t.Fatalf("AllChunks: %v", err)
		}
		seen := make(map[hashcodec.Hash]bool, len(all))
		for _, c := range all {
			seen[c.Hash] = true
		}
		if !seen[c1.Hash] || !seen[c2.Hash] {
			t.Fatalf("AllChunks missing expected hashes: got %+v", all)
		}
	})

	t.Run("AllChunksEmptyStoreReturnsNone", func(t *testing.T) {
		s := newStore(t)
		all, err := s.AllChunks()
		if err != nil {
			t.Fatalf("AllChunks: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected zero chunks, got %d", len(all))
		}
	})

	t.Run("PutGetReductionRoundTrip", func(t *testing.T) {
		s := newStore(t)
		r := manifest.Reduction{
			Profile:         "default",
			TargetAligner:   "blastp",
			ReferenceChunks: []hashcodec.Hash{hashcodec.Sum([]byte("ref1"))},
			DeltaChunks:     []hashcodec.Hash{hashcodec.Sum([]byte("delta1"))},
			Statistics: manifest.ReductionStatistics{
				OriginalSequences: 100, ReferenceSequences: 10, ChildSequences: 90, SequenceCoverage: 1.0,
			},
			ReductionRatio: 0.1,
			CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		h, err := s.PutReduction(r)
		if err != nil {
			t.Fatalf("PutReduction: %v", err)
		}
		got, err := s.GetReduction(h)
		if err != nil {
			t.Fatalf("GetReduction: %v", err)
		}
		if got.Profile != r.Profile || got.ReductionRatio != r.ReductionRatio {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
		}
	})

	t.Run("PutGetTemporalRoundTrip", func(t *testing.T) {
		s := newStore(t)
		m := manifest.Temporal{
			Version:         "20260101_000000",
			UpstreamVersion: "2026_01",
			CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		h, err := s.PutTemporal(m)
		if err != nil {
			t.Fatalf("PutTemporal: %v", err)
		}
		got, err := s.GetTemporal(h)
		if err != nil {
			t.Fatalf("GetTemporal: %v", err)
		}
		if got.Version != m.Version {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
		}
	})

	t.Run("CurrentPointerRoundTrip", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Current(ref); !errors.Is(err, manifest.ErrNotFound) {
			t.Fatalf("expected ErrNotFound before first SetCurrent, got %v", err)
		}
		h := hashcodec.Sum([]byte("temporal manifest"))
		if err := s.SetCurrent(ref, h); err != nil {
			t.Fatalf("SetCurrent: %v", err)
		}
		got, err := s.Current(ref)
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if got != h {
			t.Fatalf("Current = %s, want %s", got, h)
		}

		h2 := hashcodec.Sum([]byte("newer temporal manifest"))
		if err := s.SetCurrent(ref, h2); err != nil {
			t.Fatalf("SetCurrent (update): %v", err)
		}
		got, err = s.Current(ref)
		if err != nil {
			t.Fatalf("Current after update: %v", err)
		}
		if got != h2 {
			t.Fatalf("Current after update = %s, want %s", got, h2)
		}
	})

	t.Run("AliasRoundTrip", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutAlias(ref, "stable_release", "20260101_000000"); err != nil {
			t.Fatalf("PutAlias: %v", err)
		}
		version, err := s.ResolveAlias(ref, "stable_release")
		if err != nil {
			t.Fatalf("ResolveAlias: %v", err)
		}
		if version != "20260101_000000" {
			t.Fatalf("ResolveAlias = %q, want %q", version, "20260101_000000")
		}

		aliases, err := s.ListAliases(ref)
		if err != nil {
			t.Fatalf("ListAliases: %v", err)
		}
		if len(aliases) != 1 || aliases["stable_release"] != "20260101_000000" {
			t.Fatalf("ListAliases = %+v", aliases)
		}

		if err := s.DeleteAlias(ref, "stable_release"); err != nil {
			t.Fatalf("DeleteAlias: %v", err)
		}
		if _, err := s.ResolveAlias(ref, "stable_release"); !errors.Is(err, manifest.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after DeleteAlias, got %v", err)
		}
	})

	t.Run("PutAliasRejectsReservedNames", func(t *testing.T) {
		s := newStore(t)
		for _, reserved := range []string{"current", "stable", "latest", "previous", "chunks", "manifests", "versions"} {
			if err := s.PutAlias(ref, reserved, "20260101_000000"); err == nil {
				t.Fatalf("expected error for reserved alias %q", reserved)
			}
		}
	})

	t.Run("PutAliasRejectsPathSeparators", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutAlias(ref, "bad/alias", "20260101_000000"); err == nil {
			t.Fatal("expected error for alias containing path separator")
		}
	})

	t.Run("PutAliasRejectsTimestampCollision", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutAlias(ref, "20260101_000000", "other-version"); err == nil {
			t.Fatal("expected error for alias colliding with timestamp format")
		}
	})

	t.Run("AliasesAreScopedPerDataset", func(t *testing.T) {
		s := newStore(t)
		other := manifest.DatasetRef{Source: "ncbi", Dataset: "nr"}
		if err := s.PutAlias(ref, "stable_release", "v1"); err != nil {
			t.Fatalf("PutAlias: %v", err)
		}
		if _, err := s.ResolveAlias(other, "stable_release"); !errors.Is(err, manifest.ErrNotFound) {
			t.Fatalf("expected alias to be scoped to its dataset, got %v", err)
		}
	})
}
