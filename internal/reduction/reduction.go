// Package reduction orchestrates one reduction of a sequence set under a
// named profile: select references, write them into chunks, delta-encode
// every other sequence against its assigned reference, and emit a
// Reduction Manifest tying the two chunk families together under one
// Merkle root.
package reduction

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"talaria/internal/blob"
	"talaria/internal/chunker"
	"talaria/internal/delta"
	"talaria/internal/hashcodec"
	"talaria/internal/layout"
	"talaria/internal/logging"
	"talaria/internal/manifest"
	"talaria/internal/merkle"
	"talaria/internal/selector"
	"talaria/internal/sequence"
	"talaria/internal/taxonomy"

	"golang.org/x/sync/errgroup"
)

// DeltaChunkConfig tunes how delta records are batched into delta chunks.
type DeltaChunkConfig struct {
	// TargetSize is the uncompressed child-residue byte budget a delta
	// chunk tries to stay under. Defaults to 4 MiB.
	TargetSize uint64

	// TargetRecordCount is the record count a delta chunk tries to stay
	// under. Zero disables this limit.
	TargetRecordCount uint64

	// Codec selects how delta chunk blobs are compressed. Defaults to
	// hashcodec.CodecZstd.
	Codec hashcodec.Codec

	CompressLevel int
}

func (c DeltaChunkConfig) withDefaults() DeltaChunkConfig {
	c.TargetSize = cmp.Or(c.TargetSize, 4<<20)
	if c.Codec == 0 {
		c.Codec = hashcodec.CodecZstd
	}
	c.CompressLevel = cmp.Or(c.CompressLevel, 3)
	return c
}

// Config tunes one Engine.
type Config struct {
	Selector         selector.Config
	Scoring          delta.Scoring
	ReferenceChunker chunker.Config
	DeltaChunk       DeltaChunkConfig

	// AcceptedAlphabet, if non-empty, is passed to sequence.AcceptedSet
	// and used to sanitize input sequences before selection. Empty
	// means no sanitization is performed.
	AcceptedAlphabet string

	Profile       string
	TargetAligner string

	Logger *slog.Logger
}

// Engine runs reductions against a blob store, a manifest store and a
// repository layout, optionally consulting a taxonomy tree for
// taxonomy-aware reference chunking and edge weighting.
type Engine struct {
	cfg       Config
	blobs     blob.Store
	manifests manifest.Store
	dir       layout.Dir
	tree      *taxonomy.Tree
	logger    *slog.Logger
}

// New creates an Engine. tree may be nil.
func New(cfg Config, blobs blob.Store, manifests manifest.Store, dir layout.Dir, tree *taxonomy.Tree) *Engine {
	logger := logging.Default(cfg.Logger).With("component", "reduction", "profile", cfg.Profile)
	return &Engine{cfg: cfg, blobs: blobs, manifests: manifests, dir: dir, tree: tree, logger: logger}
}

// Result is the outcome of one reduction run.
type Result struct {
	Reduction manifest.Reduction
	Hash      hashcodec.Hash
}

// Run reduces seqs for (source, dataset, version) under the engine's
// configured profile, using edges as the reference selector's
// pre-computed all-vs-all alignment table.
func (e *Engine) Run(source, dataset, version string, seqs []sequence.Sequence, edges []selector.Edge) (Result, error) {
	sanitized := seqs
	if e.cfg.AcceptedAlphabet != "" {
		sr := sequence.Sanitize(seqs, sequence.AcceptedSet(e.cfg.AcceptedAlphabet))
		sanitized = sr.Kept
		if sr.Removed > 0 {
			e.logger.Info("sanitize dropped sequences", "removed", sr.Removed)
		}
	}

	selResult, err := selector.Select(e.cfg.Selector, sanitized, edges)
	if err != nil {
		return Result{}, fmt.Errorf("reduction: select references: %w", err)
	}

	byID := make(map[string]sequence.Sequence, len(sanitized))
	for _, s := range sanitized {
		byID[s.ID] = s
	}

	refSeqs := make([]sequence.Sequence, 0, len(selResult.References))
	for _, id := range selResult.References {
		s, ok := byID[id]
		if !ok {
			return Result{}, fmt.Errorf("reduction: selector returned unknown reference id %q", id)
		}
		refSeqs = append(refSeqs, s)
	}

	refChunkResult, err := chunker.New(e.cfg.ReferenceChunker, e.blobs, e.tree).Run(sequence.NewSliceSource(refSeqs))
	if err != nil {
		return Result{}, fmt.Errorf("reduction: write reference chunks: %w", err)
	}

	refHashes := make([]hashcodec.Hash, 0, len(refChunkResult.Chunks))
	for _, cm := range refChunkResult.Chunks {
		if _, err := e.manifests.PutChunk(cm); err != nil {
			return Result{}, fmt.Errorf("reduction: persist reference chunk manifest: %w", err)
		}
		refHashes = append(refHashes, cm.Hash)
	}

	recordsByRef, err := e.encodeDeltas(selResult, byID)
	if err != nil {
		return Result{}, err
	}

	var allRecords []delta.Record
	for _, recs := range recordsByRef {
		allRecords = append(allRecords, recs...)
	}

	deltaChunks, err := e.writeDeltaChunks(allRecords)
	if err != nil {
		return Result{}, err
	}
	deltaHashes := make([]hashcodec.Hash, 0, len(deltaChunks))
	for _, cm := range deltaChunks {
		deltaHashes = append(deltaHashes, cm.Hash)
	}

	leaves := make([]hashcodec.Hash, 0, len(refHashes)+len(deltaHashes))
	leaves = append(leaves, refHashes...)
	leaves = append(leaves, deltaHashes...)
	root := merkle.Root(leaves)

	stats := e.statistics(len(sanitized), len(refSeqs), len(allRecords))
	ratio := reductionRatio(refSeqs, allRecords, sanitized)

	red := manifest.Reduction{
		Profile:         e.cfg.Profile,
		TargetAligner:   e.cfg.TargetAligner,
		ReferenceChunks: refHashes,
		DeltaChunks:     deltaHashes,
		Statistics:      stats,
		ReductionRatio:  ratio,
		MerkleRoot:      root,
		CreatedAt:       time.Now().UTC(),
	}

	hash, err := e.manifests.PutReduction(red)
	if err != nil {
		return Result{}, fmt.Errorf("reduction: persist reduction manifest: %w", err)
	}

	if err := e.writeManifestFiles(source, dataset, version, red); err != nil {
		return Result{}, err
	}

	e.logger.Info("reduction complete",
		"source", source, "dataset", dataset, "version", version,
		"references", len(refSeqs), "children", len(allRecords), "ratio", ratio)
	return Result{Reduction: red, Hash: hash}, nil
}

// encodeDeltas computes one delta.Record per (reference, child) pair,
// running one reference group per goroutine since groups never share
// state. The returned slice preserves selResult.References order, and
// within each group, child ids are sorted, so the overall output is
// deterministic regardless of goroutine completion order.
func (e *Engine) encodeDeltas(selResult selector.Result, byID map[string]sequence.Sequence) ([][]delta.Record, error) {
	recordsByRef := make([][]delta.Record, len(selResult.References))

	var g errgroup.Group
	for i, refID := range selResult.References {
		g.Go(func() error {
			ref, ok := byID[refID]
			if !ok {
				return fmt.Errorf("reduction: selector returned unknown reference id %q", refID)
			}
			childIDs := append([]string(nil), selResult.Children[refID]...)
			sort.Strings(childIDs)

			recs := make([]delta.Record, 0, len(childIDs))
			for _, childID := range childIDs {
				child, ok := byID[childID]
				if !ok {
					return fmt.Errorf("reduction: selector returned unknown child id %q", childID)
				}
				rec, err := delta.Encode(e.cfg.Scoring, ref, child)
				if err != nil {
					return fmt.Errorf("reduction: encode delta %s -> %s: %w", refID, childID, err)
				}
				recs = append(recs, rec)
			}
			recordsByRef[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return recordsByRef, nil
}

func (e *Engine) statistics(original, references, children int) manifest.ReductionStatistics {
	stats := manifest.ReductionStatistics{
		OriginalSequences:  uint64(original),
		ReferenceSequences: uint64(references),
		ChildSequences:     uint64(children),
	}
	if original > 0 {
		stats.SequenceCoverage = float64(references+children) / float64(original)
	}
	return stats
}

// reductionRatio reports the fraction of original residue bytes saved by
// the reduction: 1 minus the ratio of encoded bytes (full reference
// residues plus every child's edit script) to original residue bytes.
func reductionRatio(refSeqs []sequence.Sequence, records []delta.Record, original []sequence.Sequence) float64 {
	var originalBytes, encodedBytes uint64
	for _, s := range original {
		originalBytes += uint64(s.Len())
	}
	for _, s := range refSeqs {
		encodedBytes += uint64(s.Len())
	}
	for _, rec := range records {
		encodedBytes += uint64(len(rec.EditScript))
	}
	if originalBytes == 0 {
		return 0
	}
	return 1 - float64(encodedBytes)/float64(originalBytes)
}

func (e *Engine) writeDeltaChunks(records []delta.Record) ([]manifest.Chunk, error) {
	cfg := e.cfg.DeltaChunk.withDefaults()

	var chunks []manifest.Chunk
	var bucket []delta.Record
	var bucketSize uint64

	flush := func() error {
		if len(bucket) == 0 {
			return nil
		}
		cm, err := e.writeDeltaChunk(bucket, cfg)
		if err != nil {
			return err
		}
		chunks = append(chunks, cm)
		bucket = nil
		bucketSize = 0
		return nil
	}

	for _, rec := range records {
		size := uint64(rec.ChildLength)
		if len(bucket) > 0 && cfg.TargetSize > 0 && bucketSize+size > cfg.TargetSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if cfg.TargetRecordCount > 0 && uint64(len(bucket)) >= cfg.TargetRecordCount {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		bucket = append(bucket, rec)
		bucketSize += size
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (e *Engine) writeDeltaChunk(records []delta.Record, cfg DeltaChunkConfig) (manifest.Chunk, error) {
	blobBytes, err := delta.EncodeChunkBlob(records, cfg.Codec, cfg.CompressLevel)
	if err != nil {
		return manifest.Chunk{}, fmt.Errorf("reduction: encode delta chunk: %w", err)
	}
	hash, err := e.blobs.Put(blobBytes, false)
	if err != nil {
		return manifest.Chunk{}, fmt.Errorf("reduction: store delta chunk: %w", err)
	}

	var size uint64
	taxa := make([]uint32, 0, len(records))
	index := make([]manifest.SequenceSpan, 0, len(records))
	var offset uint64
	for _, rec := range records {
		index = append(index, manifest.SequenceSpan{Offset: offset, Length: rec.ChildLength})
		offset += rec.ChildLength
		size += rec.ChildLength
		if rec.Metadata.Taxon != 0 {
			taxa = append(taxa, uint32(rec.Metadata.Taxon))
		}
	}

	var compressedSize uint64
	if cfg.Codec != hashcodec.CodecRaw {
		compressedSize = uint64(len(blobBytes))
	}

	cm := manifest.Chunk{
		Hash:           hash,
		Size:           size,
		CompressedSize: compressedSize,
		SequenceCount:  uint32(len(records)),
		TaxonIDs:       manifest.SortTaxonIDs(taxa),
		SequenceIndex:  index,
	}
	if _, err := e.manifests.PutChunk(cm); err != nil {
		return manifest.Chunk{}, fmt.Errorf("reduction: persist delta chunk manifest: %w", err)
	}
	return cm, nil
}

var reductionManifestMagic = [4]byte{'T', 'A', 'L', 0x01}

func (e *Engine) writeManifestFiles(source, dataset, version string, red manifest.Reduction) error {
	payload, err := manifest.CanonicalBytes(red)
	if err != nil {
		return fmt.Errorf("reduction: encode manifest payload: %w", err)
	}

	talPath := e.dir.ProfileManifestPath(source, dataset, version, e.cfg.Profile)
	if err := os.MkdirAll(filepath.Dir(talPath), 0o750); err != nil {
		return fmt.Errorf("reduction: create profiles directory: %w", err)
	}
	buf := make([]byte, 0, len(reductionManifestMagic)+len(payload))
	buf = append(buf, reductionManifestMagic[:]...)
	buf = append(buf, payload...)
	if err := writeFileAtomic(talPath, buf, 0o644); err != nil {
		return fmt.Errorf("reduction: write %s: %w", talPath, err)
	}

	jsonBytes, err := json.MarshalIndent(red, "", "  ")
	if err != nil {
		return fmt.Errorf("reduction: encode json manifest: %w", err)
	}
	jsonPath := e.dir.ProfileManifestJSONPath(source, dataset, version, e.cfg.Profile)
	if err := writeFileAtomic(jsonPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("reduction: write %s: %w", jsonPath, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".reduction-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
