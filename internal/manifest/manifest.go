// Package manifest defines the structural manifests that describe chunks,
// reductions, and whole database snapshots, and the Manifest Store
// contract that persists them by content hash alongside named pointers
// (current version, aliases).
package manifest

import (
	"time"

	"talaria/internal/hashcodec"
)

// SequenceSpan locates one sequence's packed bytes within a chunk blob.
type SequenceSpan struct {
	Offset uint64
	Length uint64
}

// Chunk describes one content-addressed chunk: its hash, size, the
// sequences it packs, and optionally a per-sequence index within the
// blob. hash == H(packed_bytes), where packed_bytes is the chunk blob as
// defined in hashcodec.EncodeChunkBlob.
type Chunk struct {
	Hash             hashcodec.Hash
	Size             uint64         // uncompressed byte length of the packed sequences
	CompressedSize   uint64         // present (non-zero) iff the blob was stored compressed
	SequenceCount    uint32
	TaxonIDs         []uint32       // sorted, deduplicated
	SequenceIndex    []SequenceSpan // optional; len 0 if not built
}

// ReductionStatistics summarizes one reduction's outcome.
type ReductionStatistics struct {
	OriginalSequences  uint64
	ReferenceSequences uint64
	ChildSequences     uint64
	SequenceCoverage   float64 // in [0, 1]
}

// Reduction describes one reduction of a (source, dataset, version)
// under a named profile.
type Reduction struct {
	Profile            string
	TargetAligner      string
	ReferenceChunks    []hashcodec.Hash // ordered
	DeltaChunks        []hashcodec.Hash // ordered
	Statistics         ReductionStatistics
	ReductionRatio     float64
	MerkleRoot         hashcodec.Hash // root over ReferenceChunks ++ DeltaChunks
	CreatedAt          time.Time
}

// Temporal is the top-level manifest for a database at one point in
// bi-temporal time.
type Temporal struct {
	Version         string
	UpstreamVersion string
	ChunkIndex      []Chunk // ordered
	SequenceRoot    hashcodec.Hash
	TaxonomyRoot    hashcodec.Hash
	CreatedAt       time.Time
}

// Coordinate is a bi-temporal point: independent sequence-time and
// taxonomy-time instants, both UTC.
type Coordinate struct {
	SequenceTime time.Time
	TaxonomyTime time.Time
}
