package repo

import (
	"fmt"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/reduction"
	"talaria/internal/selector"
	"talaria/internal/sequence"
)

// ReduceOptions configures one Reduce call. Edges is the pre-computed
// all-vs-all alignment table the caller obtained by running its own
// aligner.Adapter over the dataset's sequences; producing that table is
// outside this package's concern, since it requires writing the
// sequences out to the aligner binary's expected input format.
type ReduceOptions struct {
	Profile string
	Edges   []selector.Edge
}

// Reduce runs a reduction of ref's full sequence set under opts.Profile,
// persisting the resulting reduction manifest at the resolved version's
// profiles directory.
func (r *Repo) Reduce(ref Reference, opts ReduceOptions) (reduction.Result, error) {
	hash, version, err := r.resolve(ref)
	if err != nil {
		return reduction.Result{}, err
	}

	src, err := r.sequenceSourceFromTemporal(hash, nil)
	if err != nil {
		return reduction.Result{}, err
	}
	seqs, err := sequence.Drain(src)
	if err != nil {
		return reduction.Result{}, fmt.Errorf("repo: reduce: load sequences: %w", err)
	}

	cfg := reduction.Config{
		Selector:         r.cfg.Selector,
		Scoring:          r.cfg.Scoring,
		ReferenceChunker: r.cfg.ReferenceChunker,
		DeltaChunk:       r.cfg.DeltaChunk,
		AcceptedAlphabet: r.cfg.AcceptedAlphabet,
		Profile:          opts.Profile,
		Logger:           r.cfg.Logger,
	}
	engine := reduction.New(cfg, r.blobs, r.manifests, r.dir, r.tree)
	result, err := engine.Run(ref.Source, ref.Dataset, version, seqs, opts.Edges)
	if err != nil {
		return reduction.Result{}, fmt.Errorf("repo: reduce: %w", err)
	}

	r.indexReductionChunks(result.Reduction)

	r.logger.Info("reduction committed",
		"source", ref.Source, "dataset", ref.Dataset, "version", version, "profile", opts.Profile,
		"references", len(result.Reduction.ReferenceChunks), "delta_chunks", len(result.Reduction.DeltaChunks))
	return result, nil
}

// indexReductionChunks folds a committed reduction's chunk references
// back into the chunk index, since reduction.Result only carries bare
// hashes and not the manifest.Chunk records Put expects. A chunk missing
// from the manifest store (shouldn't happen; engine.Run persists every
// chunk it writes) is logged and skipped rather than failing the whole
// reduction, since the reduction itself already committed successfully.
func (r *Repo) indexReductionChunks(red manifest.Reduction) {
	all, err := r.manifests.AllChunks()
	if err != nil {
		r.logger.Error("index reduction chunks", "error", err)
		return
	}
	byHash := make(map[hashcodec.Hash]manifest.Chunk, len(all))
	for _, c := range all {
		byHash[c.Hash] = c
	}
	index := func(hash hashcodec.Hash, isReference bool) {
		cm, ok := byHash[hash]
		if !ok {
			r.logger.Error("index reduction chunk", "hash", hash, "error", "no stored chunk manifest for this hash")
			return
		}
		r.chunkIndex.Put(cm)
		r.chunkIndex.SetReference(hash, isReference)
	}
	for _, hash := range red.ReferenceChunks {
		index(hash, true)
	}
	for _, hash := range red.DeltaChunks {
		index(hash, false)
	}
}

// ReconstructOptions narrows a Reconstruct call to a subset of
// sequences.
type ReconstructOptions struct {
	IDs map[string]bool
}

// Reconstruct inverts a previously committed reduction, yielding the
// original sequence set (or the requested subset of it) back.
func (r *Repo) Reconstruct(ref Reference, opts ReconstructOptions) (sequence.Source, error) {
	if ref.Profile == "" {
		return nil, fmt.Errorf("repo: reconstruct: %s/%s: reference names no profile", ref.Source, ref.Dataset)
	}
	_, version, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	return r.reconstructProfile(ref.Source, ref.Dataset, version, ref.Profile, opts.IDs)
}
