// Package chunker groups a stream of taxon-annotated sequences into
// content-addressed, taxonomy-aware chunks: sequences sharing a lowest
// common ancestor at or below a configured rank are packed together into
// one chunk blob, written to the blob store, and described by a chunk
// manifest.
package chunker

import (
	"cmp"
	"fmt"
	"log/slog"

	"talaria/internal/blob"
	"talaria/internal/hashcodec"
	"talaria/internal/logging"
	"talaria/internal/manifest"
	"talaria/internal/sequence"
	"talaria/internal/taxonomy"
)

// Config tunes the closing policy and output codec.
type Config struct {
	// TargetChunkSize is the uncompressed byte size a chunk tries to
	// stay under. Defaults to 4 MiB.
	TargetChunkSize uint64

	// TargetSequenceCount is the sequence count a chunk tries to stay
	// under. Zero disables this limit.
	TargetSequenceCount uint64

	// MaxSingleSequenceBytes is the residue length above which a
	// sequence is placed alone in its own chunk, bypassing the other
	// closing rules. Zero disables this rule.
	MaxSingleSequenceBytes uint64

	// Rank is the standard NCBI rank at or below which a chunk's lowest
	// common ancestor must stay; a sequence whose taxon would push the
	// running LCA above Rank forces the chunk closed first. Defaults to
	// "genus". Sequences without a known taxon are treated as
	// taxonomically unconstrained and never force a close on this
	// basis.
	Rank string

	// Codec selects how chunk blobs are compressed before storage.
	// Defaults to hashcodec.CodecZstd.
	Codec hashcodec.Codec

	// CompressLevel is passed through to hashcodec.EncodeChunkBlob.
	CompressLevel int

	// OnChunk, if set, is called once for every chunk written, after its
	// blob and manifest are complete. Used by callers that need to report
	// progress (e.g. the download state machine's Processing state) on a
	// stream whose total chunk count isn't known ahead of time.
	OnChunk func(manifest.Chunk)

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	c.TargetChunkSize = cmp.Or(c.TargetChunkSize, 4<<20)
	c.Rank = cmp.Or(c.Rank, "genus")
	if c.Codec == 0 {
		c.Codec = hashcodec.CodecZstd
	}
	c.CompressLevel = cmp.Or(c.CompressLevel, 3)
	return c
}

// Chunker consumes a sequence.Source and emits chunks to a blob.Store,
// returning the manifest.Chunk records describing what it wrote.
type Chunker struct {
	cfg    Config
	blobs  blob.Store
	tree   *taxonomy.Tree // optional; nil means taxon-LCA closing is skipped
	logger *slog.Logger
}

// New creates a Chunker writing into blobs. tree may be nil, in which
// case sequences are bucketed only by the size/count/singleton rules —
// useful for taxonomy-free inputs or tests.
func New(cfg Config, blobs blob.Store, tree *taxonomy.Tree) *Chunker {
	cfg = cfg.withDefaults()
	logger := logging.Default(cfg.Logger).With("component", "chunker")
	return &Chunker{cfg: cfg, blobs: blobs, tree: tree, logger: logger}
}

// Result is the outcome of chunking one sequence stream.
type Result struct {
	Chunks           []manifest.Chunk
	SequencesWritten uint64
}

// Run drains src, packing sequences into chunks per the closing policy,
// writing each chunk's blob and returning its manifest. Every input
// sequence appears in exactly one output chunk, in input order within
// that chunk.
func (c *Chunker) Run(src sequence.Source) (Result, error) {
	var result Result
	var bucket []sequence.Sequence
	var lca sequence.TaxonID
	var haveLCA bool

	flush := func() error {
		if len(bucket) == 0 {
			return nil
		}
		cm, err := c.writeChunk(bucket)
		if err != nil {
			return err
		}
		result.Chunks = append(result.Chunks, cm)
		result.SequencesWritten += uint64(len(bucket))
		if c.cfg.OnChunk != nil {
			c.cfg.OnChunk(cm)
		}
		bucket = nil
		haveLCA = false
		return nil
	}

	for {
		seq, ok, err := src.Next()
		if err != nil {
			return Result{}, fmt.Errorf("chunker: read sequence: %w", err)
		}
		if !ok {
			break
		}

		if c.isSingleton(seq) {
			if err := flush(); err != nil {
				return Result{}, err
			}
			cm, err := c.writeChunk([]sequence.Sequence{seq})
			if err != nil {
				return Result{}, err
			}
			result.Chunks = append(result.Chunks, cm)
			result.SequencesWritten++
			if c.cfg.OnChunk != nil {
				c.cfg.OnChunk(cm)
			}
			continue
		}

		if c.shouldClose(bucket, lca, haveLCA, seq) {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}

		bucket = append(bucket, seq)
		if seq.HasTaxon() {
			lca, haveLCA = c.nextLCA(lca, haveLCA, seq.Taxon)
		}
	}

	if err := flush(); err != nil {
		return Result{}, err
	}
	c.logger.Info("chunking complete", "chunks", len(result.Chunks), "sequences", result.SequencesWritten)
	return result, nil
}

func (c *Chunker) isSingleton(seq sequence.Sequence) bool {
	return c.cfg.MaxSingleSequenceBytes > 0 && uint64(seq.Len()) > c.cfg.MaxSingleSequenceBytes
}

// nextLCA folds taxon into the bucket's running lowest common ancestor.
func (c *Chunker) nextLCA(lca sequence.TaxonID, haveLCA bool, taxon sequence.TaxonID) (sequence.TaxonID, bool) {
	if c.tree == nil {
		return 0, false
	}
	if !haveLCA {
		return taxon, true
	}
	next, err := c.tree.LowestCommonAncestor(lca, taxon)
	if err != nil {
		// Unknown taxon: leave the running LCA unconstrained rather than
		// failing the whole run; the rank check below then degrades to
		// "never forces a close" for this bucket.
		return lca, false
	}
	return next, true
}

// shouldClose reports whether bucket must be flushed before next is
// appended.
func (c *Chunker) shouldClose(bucket []sequence.Sequence, lca sequence.TaxonID, haveLCA bool, next sequence.Sequence) bool {
	if len(bucket) == 0 {
		return false
	}

	size := bucketSize(bucket)
	if c.cfg.TargetChunkSize > 0 && size+uint64(next.Len()) > c.cfg.TargetChunkSize {
		return true
	}
	if c.cfg.TargetSequenceCount > 0 && uint64(len(bucket))+1 > c.cfg.TargetSequenceCount {
		return true
	}
	if c.tree == nil || !haveLCA || !next.HasTaxon() {
		return false
	}

	candidate, err := c.tree.LowestCommonAncestor(lca, next.Taxon)
	if err != nil {
		return false
	}
	below, err := c.tree.RankAtOrBelow(candidate, c.cfg.Rank)
	if err != nil {
		return false
	}
	return !below
}

func bucketSize(bucket []sequence.Sequence) uint64 {
	var total uint64
	for _, seq := range bucket {
		total += uint64(seq.Len())
	}
	return total
}

func (c *Chunker) writeChunk(seqs []sequence.Sequence) (manifest.Chunk, error) {
	// The sequence payload is already compressed inside the chunk blob's
	// own codec frame (hashcodec.EncodeChunkBlob), so the blob store is
	// asked to keep it as-is rather than compressing it a second time.
	blobBytes, err := hashcodec.EncodeChunkBlob(seqs, c.cfg.Codec, c.cfg.CompressLevel)
	if err != nil {
		return manifest.Chunk{}, fmt.Errorf("chunker: encode chunk: %w", err)
	}
	hash, err := c.blobs.Put(blobBytes, false)
	if err != nil {
		return manifest.Chunk{}, fmt.Errorf("chunker: store chunk: %w", err)
	}

	var size uint64
	taxa := make([]uint32, 0, len(seqs))
	index := make([]manifest.SequenceSpan, 0, len(seqs))
	var offset uint64
	for _, seq := range seqs {
		n := uint64(seq.Len())
		index = append(index, manifest.SequenceSpan{Offset: offset, Length: n})
		offset += n
		size += n
		if seq.HasTaxon() {
			taxa = append(taxa, uint32(seq.Taxon))
		}
	}

	var compressedSize uint64
	if c.cfg.Codec != hashcodec.CodecRaw {
		compressedSize = uint64(len(blobBytes))
	}

	cm := manifest.Chunk{
		Hash:           hash,
		Size:           size,
		CompressedSize: compressedSize,
		SequenceCount:  uint32(len(seqs)),
		TaxonIDs:       manifest.SortTaxonIDs(taxa),
		SequenceIndex:  index,
	}
	c.logger.Debug("wrote chunk", "hash", hash, "sequences", len(seqs), "bytes", size)
	return cm, nil
}
