package temporal

import (
	"errors"
	"testing"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	manifestmem "talaria/internal/manifest/memstore"
	"talaria/internal/temporal/memstore"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestEncodeDecodeCoordinateRoundTrip(t *testing.T) {
	c := manifest.Coordinate{
		SequenceTime: mustParse(t, "2024-05-17T12:34:56Z"),
		TaxonomyTime: mustParse(t, "2023-01-02T00:00:00Z"),
	}
	key := EncodeCoordinate(c)
	got := DecodeCoordinate(key)
	if !got.SequenceTime.Equal(c.SequenceTime) || !got.TaxonomyTime.Equal(c.TaxonomyTime) {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}

func TestEncodeCoordinatePreservesOrderingWithinEqualSequenceTime(t *testing.T) {
	seq := mustParse(t, "2024-01-01T00:00:00Z")
	early := EncodeCoordinate(manifest.Coordinate{SequenceTime: seq, TaxonomyTime: mustParse(t, "2024-01-01T00:00:00Z")})
	later := EncodeCoordinate(manifest.Coordinate{SequenceTime: seq, TaxonomyTime: mustParse(t, "2024-06-01T00:00:00Z")})
	if string(early[:]) >= string(later[:]) {
		t.Fatalf("expected earlier taxonomy time to sort first when sequence time ties")
	}
}

func TestRetroactiveComposesExistingRoot(t *testing.T) {
	idx := memstore.New()
	h := hashcodec.Sum([]byte("reclassified"))
	coord := manifest.Coordinate{
		SequenceTime: mustParse(t, "2024-01-01T00:00:00Z"),
		TaxonomyTime: mustParse(t, "2024-03-01T00:00:00Z"),
	}
	if err := idx.Commit(coord, h); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap, err := Retroactive(idx, mustParse(t, "2024-06-01T00:00:00Z"), mustParse(t, "2024-06-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("Retroactive: %v", err)
	}
	if snap.Hash != h {
		t.Fatalf("Retroactive hash = %s, want %s", snap.Hash, h)
	}
}

func TestRetroactiveWithNoDominatingSnapshotFails(t *testing.T) {
	idx := memstore.New()
	_, err := Retroactive(idx, mustParse(t, "2024-01-01T00:00:00Z"), mustParse(t, "2024-01-01T00:00:00Z"))
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Retroactive on empty index: got %v, want ErrNoSnapshot", err)
	}
}

func chunk(hashSeed string, taxonIDs []uint32, seqCount uint32) manifest.Chunk {
	return manifest.Chunk{
		Hash:          hashcodec.Sum([]byte(hashSeed)),
		TaxonIDs:      taxonIDs,
		SequenceCount: seqCount,
	}
}

func TestDiffClassifiesAddedAndRemoved(t *testing.T) {
	store := manifestmem.New()
	tidx := memstore.New()

	unchanged := chunk("unchanged", []uint32{9606}, 5)
	removedChunk := chunk("removed", []uint32{10090}, 3)
	addedChunk := chunk("added", []uint32{7227}, 2)

	hA, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{unchanged, removedChunk}})
	if err != nil {
		t.Fatalf("PutTemporal A: %v", err)
	}
	hB, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{unchanged, addedChunk}})
	if err != nil {
		t.Fatalf("PutTemporal B: %v", err)
	}

	coordA := manifest.Coordinate{SequenceTime: mustParse(t, "2024-01-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-01-01T00:00:00Z")}
	coordB := manifest.Coordinate{SequenceTime: mustParse(t, "2024-06-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-06-01T00:00:00Z")}
	if err := tidx.Commit(coordA, hA); err != nil {
		t.Fatalf("Commit A: %v", err)
	}
	if err := tidx.Commit(coordB, hB); err != nil {
		t.Fatalf("Commit B: %v", err)
	}

	result, err := Diff(tidx, store, coordA, coordB)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Added) != 1 || result.Added[0] != addedChunk.Hash {
		t.Fatalf("Added = %v, want [%s]", result.Added, addedChunk.Hash)
	}
	if len(result.Removed) != 1 || result.Removed[0] != removedChunk.Hash {
		t.Fatalf("Removed = %v, want [%s]", result.Removed, removedChunk.Hash)
	}
	if len(result.Modified) != 0 {
		t.Fatalf("Modified = %v, want none", result.Modified)
	}
	if result.Moved != nil {
		t.Fatalf("Moved = %v, want nil", result.Moved)
	}
	wantAffected := uint64(removedChunk.SequenceCount) + uint64(addedChunk.SequenceCount)
	if result.SequencesAffected != wantAffected {
		t.Fatalf("SequencesAffected = %d, want %d", result.SequencesAffected, wantAffected)
	}
}

func TestDiffPairsSingleTaxonMatchAsModified(t *testing.T) {
	store := manifestmem.New()
	tidx := memstore.New()

	oldVersion := chunk("old content", []uint32{562}, 10)
	newVersion := chunk("new content", []uint32{562}, 12)

	hA, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{oldVersion}})
	if err != nil {
		t.Fatalf("PutTemporal A: %v", err)
	}
	hB, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{newVersion}})
	if err != nil {
		t.Fatalf("PutTemporal B: %v", err)
	}

	coordA := manifest.Coordinate{SequenceTime: mustParse(t, "2024-01-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-01-01T00:00:00Z")}
	coordB := manifest.Coordinate{SequenceTime: mustParse(t, "2024-06-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-06-01T00:00:00Z")}
	if err := tidx.Commit(coordA, hA); err != nil {
		t.Fatalf("Commit A: %v", err)
	}
	if err := tidx.Commit(coordB, hB); err != nil {
		t.Fatalf("Commit B: %v", err)
	}

	result, err := Diff(tidx, store, coordA, coordB)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Modified) != 1 {
		t.Fatalf("Modified = %v, want exactly one pair", result.Modified)
	}
	if result.Modified[0].Old != oldVersion.Hash || result.Modified[0].New != newVersion.Hash {
		t.Fatalf("Modified pair = %+v, want old=%s new=%s", result.Modified[0], oldVersion.Hash, newVersion.Hash)
	}
	if len(result.Added) != 0 || len(result.Removed) != 0 {
		t.Fatalf("expected no pure adds/removes, got Added=%v Removed=%v", result.Added, result.Removed)
	}
	if result.SequencesAffected != uint64(oldVersion.SequenceCount) {
		t.Fatalf("SequencesAffected = %d, want %d", result.SequencesAffected, oldVersion.SequenceCount)
	}
}

func TestDedupCommitsDelegatesToWrappedIndex(t *testing.T) {
	idx := NewDedupCommits(memstore.New())
	coord := manifest.Coordinate{SequenceTime: mustParse(t, "2024-01-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-01-01T00:00:00Z")}
	h := hashcodec.Sum([]byte("dedup"))

	if err := idx.Commit(coord, h); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := idx.Commit(coord, h); err != nil {
		t.Fatalf("repeat Commit with same hash should be a no-op, got: %v", err)
	}
	snap, err := idx.QueryAt(coord)
	if err != nil {
		t.Fatalf("QueryAt: %v", err)
	}
	if snap.Hash != h {
		t.Fatalf("QueryAt hash = %s, want %s", snap.Hash, h)
	}

	if err := idx.Commit(coord, hashcodec.Sum([]byte("other"))); !errors.Is(err, ErrCoordinateRecommitted) {
		t.Fatalf("Commit with different hash: got %v, want ErrCoordinateRecommitted", err)
	}
}

func TestDiffAmbiguousTaxonMatchDoesNotPair(t *testing.T) {
	store := manifestmem.New()
	tidx := memstore.New()

	a1 := chunk("a1", []uint32{1}, 1)
	a2 := chunk("a2", []uint32{1}, 1)
	b1 := chunk("b1", []uint32{1}, 1)

	hA, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{a1, a2}})
	if err != nil {
		t.Fatalf("PutTemporal A: %v", err)
	}
	hB, err := store.PutTemporal(manifest.Temporal{ChunkIndex: []manifest.Chunk{b1}})
	if err != nil {
		t.Fatalf("PutTemporal B: %v", err)
	}

	coordA := manifest.Coordinate{SequenceTime: mustParse(t, "2024-01-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-01-01T00:00:00Z")}
	coordB := manifest.Coordinate{SequenceTime: mustParse(t, "2024-06-01T00:00:00Z"), TaxonomyTime: mustParse(t, "2024-06-01T00:00:00Z")}
	if err := tidx.Commit(coordA, hA); err != nil {
		t.Fatalf("Commit A: %v", err)
	}
	if err := tidx.Commit(coordB, hB); err != nil {
		t.Fatalf("Commit B: %v", err)
	}

	result, err := Diff(tidx, store, coordA, coordB)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(result.Modified) != 0 {
		t.Fatalf("expected no pairing when two chunks on one side share a taxon set, got %v", result.Modified)
	}
	if len(result.Removed) != 2 || len(result.Added) != 1 {
		t.Fatalf("expected all three chunks to fall back to pure add/remove, got Added=%v Removed=%v", result.Added, result.Removed)
	}
}
