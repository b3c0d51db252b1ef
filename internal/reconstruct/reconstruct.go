// Package reconstruct inverts the Reduction Engine: given a reduction
// manifest, it assembles the reference sequences from their chunks and
// streams every delta chunk, decoding each record against its reference,
// yielding the original sequence set back byte-exact.
package reconstruct

import (
	"fmt"
	"log/slog"

	"talaria/internal/blob"
	"talaria/internal/delta"
	"talaria/internal/hashcodec"
	"talaria/internal/logging"
	"talaria/internal/manifest"
	"talaria/internal/merkle"
	"talaria/internal/sequence"
)

// Reconstructor reads chunk and delta blobs out of a blob store to
// rebuild sequences described by a manifest.Reduction.
type Reconstructor struct {
	blobs  blob.Store
	logger *slog.Logger
}

func New(blobs blob.Store, logger *slog.Logger) *Reconstructor {
	return &Reconstructor{blobs: blobs, logger: logging.Default(logger).With("component", "reconstruct")}
}

// Options narrows a Reconstruct call to a subset of sequences. A nil or
// empty IDs means "everything".
type Options struct {
	IDs map[string]bool
}

func (o Options) wants(id string) bool {
	return len(o.IDs) == 0 || o.IDs[id]
}

// Reconstruct verifies red's Merkle root against its own chunk hash list,
// loads every reference chunk, and returns a sequence.Source that yields
// the requested reference sequences followed by every requested child
// sequence, decoded lazily one delta chunk at a time.
func (r *Reconstructor) Reconstruct(red manifest.Reduction, opts Options) (sequence.Source, error) {
	if err := verifyMerkleRoot(red); err != nil {
		return nil, err
	}

	refs := make(map[string]sequence.Sequence)
	var emit []sequence.Sequence
	for _, h := range red.ReferenceChunks {
		seqs, err := r.loadSequenceChunk(h)
		if err != nil {
			return nil, fmt.Errorf("reconstruct: load reference chunk %s: %w", h, err)
		}
		for _, s := range seqs {
			refs[s.ID] = s
			if opts.wants(s.ID) {
				emit = append(emit, s)
			}
		}
	}

	it := &iterator{
		blobs:       r.blobs,
		refs:        refs,
		opts:        opts,
		refsToEmit:  emit,
		deltaChunks: red.DeltaChunks,
	}
	r.logger.Info("reconstruction started",
		"references", len(red.ReferenceChunks), "delta_chunks", len(red.DeltaChunks))
	return it, nil
}

func verifyMerkleRoot(red manifest.Reduction) error {
	leaves := make([]hashcodec.Hash, 0, len(red.ReferenceChunks)+len(red.DeltaChunks))
	leaves = append(leaves, red.ReferenceChunks...)
	leaves = append(leaves, red.DeltaChunks...)
	if got := merkle.Root(leaves); got != red.MerkleRoot {
		return fmt.Errorf("reconstruct: merkle root mismatch: recomputed %s, manifest declares %s", got, red.MerkleRoot)
	}
	return nil
}

func (r *Reconstructor) loadSequenceChunk(hash hashcodec.Hash) ([]sequence.Sequence, error) {
	data, err := r.blobs.Get(hash)
	if err != nil {
		return nil, err
	}
	seqs, _, err := hashcodec.DecodeChunkBlob(data)
	return seqs, err
}

// iterator is the sequence.Source returned by Reconstruct. It first
// drains the requested reference sequences, then walks the delta chunk
// list in order, decoding one chunk's records at a time.
type iterator struct {
	blobs blob.Store
	refs  map[string]sequence.Sequence
	opts  Options

	refsToEmit []sequence.Sequence
	refIdx     int

	deltaChunks []hashcodec.Hash
	chunkIdx    int

	records   []delta.Record
	recordIdx int
}

func (it *iterator) Next() (sequence.Sequence, bool, error) {
	if it.refIdx < len(it.refsToEmit) {
		s := it.refsToEmit[it.refIdx]
		it.refIdx++
		return s, true, nil
	}

	for {
		if it.recordIdx >= len(it.records) {
			if it.chunkIdx >= len(it.deltaChunks) {
				return sequence.Sequence{}, false, nil
			}
			hash := it.deltaChunks[it.chunkIdx]
			it.chunkIdx++
			data, err := it.blobs.Get(hash)
			if err != nil {
				return sequence.Sequence{}, false, fmt.Errorf("reconstruct: load delta chunk %s: %w", hash, err)
			}
			records, _, err := delta.DecodeChunkBlob(data)
			if err != nil {
				return sequence.Sequence{}, false, fmt.Errorf("reconstruct: decode delta chunk %s: %w", hash, err)
			}
			it.records = records
			it.recordIdx = 0
			continue
		}

		rec := it.records[it.recordIdx]
		it.recordIdx++
		if !it.opts.wants(rec.ChildID) {
			continue
		}
		ref, ok := it.refs[rec.ReferenceID]
		if !ok {
			return sequence.Sequence{}, false, fmt.Errorf("reconstruct: record %s references unknown reference id %q", rec.ChildID, rec.ReferenceID)
		}
		child, err := delta.Decode(ref, rec)
		if err != nil {
			return sequence.Sequence{}, false, fmt.Errorf("reconstruct: %w", err)
		}
		return child, true, nil
	}
}
