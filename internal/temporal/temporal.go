// Package temporal implements the bi-temporal version index: an ordered
// mapping from (sequence_time, taxonomy_time) coordinates to committed
// temporal manifest hashes, plus the diff, history, and retroactive
// reclassification operations built on top of it.
package temporal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/syncutil"
)

// ErrNoSnapshot is returned by QueryAt when no committed coordinate is
// less than or equal to the query.
var ErrNoSnapshot = errors.New("temporal: no snapshot at or before coordinate")

// EncodeCoordinate renders a Coordinate as a fixed-width, big-endian,
// lexicographically order-preserving key: 8 bytes of sequence time
// followed by 8 bytes of taxonomy time, both UnixNano. Lexicographic
// comparison of two encoded keys agrees with componentwise comparison of
// SequenceTime alone (TaxonomyTime only breaks ties within equal
// SequenceTime), which is what backs History's ordering and QueryAt's
// backward scan.
func EncodeCoordinate(c manifest.Coordinate) [16]byte {
	var key [16]byte
	binary.BigEndian.PutUint64(key[0:8], uint64(c.SequenceTime.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], uint64(c.TaxonomyTime.UnixNano()))
	return key
}

// DecodeCoordinate is the inverse of EncodeCoordinate.
func DecodeCoordinate(key [16]byte) manifest.Coordinate {
	return manifest.Coordinate{
		SequenceTime: time.Unix(0, int64(binary.BigEndian.Uint64(key[0:8]))).UTC(),
		TaxonomyTime: time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16]))).UTC(),
	}
}

// Snapshot is one committed bi-temporal point.
type Snapshot struct {
	Coordinate manifest.Coordinate
	Hash       hashcodec.Hash
}

// VersionRecord is one entry in History's output.
type VersionRecord = Snapshot

// Index is the bi-temporal version index contract: an ordered store of
// (coordinate -> temporal manifest hash) commits.
type Index interface {
	// Commit records a new point. Committing the same (coord, hash) pair
	// twice is a no-op; committing a different hash at an already-
	// committed coord is rejected, since a coordinate's snapshot must
	// never change once committed.
	Commit(coord manifest.Coordinate, hash hashcodec.Hash) error

	// QueryAt returns the greatest committed coordinate that is less than
	// or equal to coord in both components, or ErrNoSnapshot if none
	// exists.
	QueryAt(coord manifest.Coordinate) (Snapshot, error)

	// History returns up to limit most-recently-committed snapshots,
	// most recent first. limit <= 0 means unbounded.
	History(limit int) ([]VersionRecord, error)
}

// ErrCoordinateRecommitted is returned by Commit when coord was already
// committed under a different hash.
var ErrCoordinateRecommitted = errors.New("temporal: coordinate already committed under a different hash")

// DedupCommits wraps idx so that concurrent commits racing on the same
// coordinate collapse into a single underlying write: the first caller's
// Commit runs, and any others for that coordinate arriving while it is in
// flight wait for its result instead of issuing their own write.
type DedupCommits struct {
	Index
	inflight syncutil.Dedup[[16]byte, struct{}]
}

var _ Index = (*DedupCommits)(nil)

// NewDedupCommits wraps idx with commit deduplication.
func NewDedupCommits(idx Index) *DedupCommits {
	return &DedupCommits{Index: idx}
}

func (d *DedupCommits) Commit(coord manifest.Coordinate, hash hashcodec.Hash) error {
	key := EncodeCoordinate(coord)
	_, err := d.inflight.Do(key, func() (struct{}, error) {
		return struct{}{}, d.Index.Commit(coord, hash)
	})
	return err
}

// Retroactive answers "what would sequences as of seqTime look like if
// reclassified by the taxonomy as of taxTime", by looking up the
// greatest committed coordinate at or before (seqTime, taxTime) without
// requiring that exact pair to have ever been committed together. This
// composes existing roots rather than recomputing anything.
func Retroactive(idx Index, seqTime, taxTime time.Time) (Snapshot, error) {
	return idx.QueryAt(manifest.Coordinate{SequenceTime: seqTime, TaxonomyTime: taxTime})
}

// ModifiedChunk pairs an old and new chunk hash that the Diff heuristic
// believes describe the same taxonomic grouping re-chunked with
// different content.
type ModifiedChunk struct {
	Old hashcodec.Hash
	New hashcodec.Hash
}

// DiffResult is the outcome of comparing two temporal manifests' chunk
// indexes.
type DiffResult struct {
	Added             []hashcodec.Hash
	Removed           []hashcodec.Hash
	Modified          []ModifiedChunk
	Moved             []hashcodec.Hash // always empty: see DESIGN.md
	SequencesAffected uint64
}

// Diff computes the set-symmetric difference between the chunk indexes
// of the temporal manifests committed at coordA and coordB. A chunk
// present only on one side is classified Modified (paired with its
// counterpart) when both sides have exactly one chunk sharing the same
// sorted taxon_ids set among the unmatched chunks; otherwise it is
// classified purely Added or Removed.
func Diff(idx Index, store manifest.Store, coordA, coordB manifest.Coordinate) (DiffResult, error) {
	snapA, err := idx.QueryAt(coordA)
	if err != nil {
		return DiffResult{}, fmt.Errorf("temporal: diff: resolve coordA: %w", err)
	}
	snapB, err := idx.QueryAt(coordB)
	if err != nil {
		return DiffResult{}, fmt.Errorf("temporal: diff: resolve coordB: %w", err)
	}

	manifestA, err := store.GetTemporal(snapA.Hash)
	if err != nil {
		return DiffResult{}, fmt.Errorf("temporal: diff: load manifest A: %w", err)
	}
	manifestB, err := store.GetTemporal(snapB.Hash)
	if err != nil {
		return DiffResult{}, fmt.Errorf("temporal: diff: load manifest B: %w", err)
	}

	chunksA := make(map[hashcodec.Hash]manifest.Chunk, len(manifestA.ChunkIndex))
	for _, c := range manifestA.ChunkIndex {
		chunksA[c.Hash] = c
	}
	chunksB := make(map[hashcodec.Hash]manifest.Chunk, len(manifestB.ChunkIndex))
	for _, c := range manifestB.ChunkIndex {
		chunksB[c.Hash] = c
	}

	var onlyA, onlyB []manifest.Chunk
	for h, c := range chunksA {
		if _, ok := chunksB[h]; !ok {
			onlyA = append(onlyA, c)
		}
	}
	for h, c := range chunksB {
		if _, ok := chunksA[h]; !ok {
			onlyB = append(onlyB, c)
		}
	}

	result := pairModifications(onlyA, onlyB)
	for _, m := range result.Modified {
		result.SequencesAffected += uint64(chunksA[m.Old].SequenceCount)
	}
	for _, h := range result.Added {
		result.SequencesAffected += uint64(chunksB[h].SequenceCount)
	}
	for _, h := range result.Removed {
		result.SequencesAffected += uint64(chunksA[h].SequenceCount)
	}
	return result, nil
}

// pairModifications matches chunks present on only one side by their
// sorted taxon_ids set, treating a 1:1 match as a content modification of
// the same grouping and everything else as a pure add or remove.
func pairModifications(onlyA, onlyB []manifest.Chunk) DiffResult {
	byTaxaA := make(map[string][]manifest.Chunk)
	for _, c := range onlyA {
		byTaxaA[taxaKey(c.TaxonIDs)] = append(byTaxaA[taxaKey(c.TaxonIDs)], c)
	}
	byTaxaB := make(map[string][]manifest.Chunk)
	for _, c := range onlyB {
		byTaxaB[taxaKey(c.TaxonIDs)] = append(byTaxaB[taxaKey(c.TaxonIDs)], c)
	}

	var result DiffResult
	matchedA := make(map[hashcodec.Hash]bool)
	matchedB := make(map[hashcodec.Hash]bool)
	for key, as := range byTaxaA {
		bs := byTaxaB[key]
		if len(as) == 1 && len(bs) == 1 {
			result.Modified = append(result.Modified, ModifiedChunk{Old: as[0].Hash, New: bs[0].Hash})
			matchedA[as[0].Hash] = true
			matchedB[bs[0].Hash] = true
		}
	}
	for _, c := range onlyA {
		if !matchedA[c.Hash] {
			result.Removed = append(result.Removed, c.Hash)
		}
	}
	for _, c := range onlyB {
		if !matchedB[c.Hash] {
			result.Added = append(result.Added, c.Hash)
		}
	}
	return result
}

func taxaKey(taxa []uint32) string {
	sorted := manifest.SortTaxonIDs(taxa)
	b := make([]byte, 0, len(sorted)*4)
	for _, t := range sorted {
		b = binary.BigEndian.AppendUint32(b, t)
	}
	return string(b)
}
