// Package repo composes the blob store, manifest store, temporal index,
// download state machine, reduction engine and reconstructor into one
// repository handle: the single entry point a command-line tool or other
// out-of-scope collaborator drives instead of wiring every component
// itself.
package repo

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"talaria/internal/blob"
	blobboltstore "talaria/internal/blob/boltstore"
	"talaria/internal/chunker"
	"talaria/internal/chunkindex"
	"talaria/internal/delta"
	"talaria/internal/download"
	"talaria/internal/hashcodec"
	"talaria/internal/layout"
	"talaria/internal/logging"
	manifestboltstore "talaria/internal/manifest/boltstore"
	"talaria/internal/reduction"
	"talaria/internal/selector"
	"talaria/internal/taxonomy"
	"talaria/internal/temporal"
	temporalboltstore "talaria/internal/temporal/boltstore"

	"golang.org/x/time/rate"
)

// Config tunes the components a Repo assembles. withDefaults fills in
// HTTPClient (http.DefaultClient), GCGrace (24h) and
// ChunkIndexHotCapacity (4096) when they are zero; the other fields are
// passed to the components as given.
type Config struct {
	Logger *slog.Logger

	Chunker          chunker.Config
	Selector         selector.Config
	Scoring          delta.Scoring
	ReferenceChunker chunker.Config
	DeltaChunk       reduction.DeltaChunkConfig
	AcceptedAlphabet string

	HTTPClient        download.HTTPDoer
	SourceFactory     download.SourceFactory
	RateLimitKBs      uint64
	PreserveOnFailure bool
	PreserveAlways    bool

	// Threads caps concurrency in the blob store's parallel hashing
	// (PutMany) and verification (VerifyAll) pools. Zero means
	// runtime.GOMAXPROCS(0).
	Threads int

	// ManifestServer is the base URL of a remote manifest server used to
	// check a dataset for updates without re-downloading it. Empty
	// disables the check; Download then falls back to its HEAD-based
	// Content-Length comparison.
	ManifestServer string

	// GCInterval is how often the background GC job runs. Zero disables
	// periodic scheduling; GC is then only ever run on-demand via GC.
	GCInterval time.Duration

	// GCGrace is the default grace period passed to GC by the periodic
	// job. On-demand GC calls may override it.
	GCGrace time.Duration

	// ChunkIndexHotCapacity bounds how many distinct chunk hashes the
	// in-memory chunk index's access-recency tracker retains. Defaults
	// to 4096; a negative value disables hot-chunk tracking.
	ChunkIndexHotCapacity int
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.GCGrace == 0 {
		c.GCGrace = 24 * time.Hour
	}
	if c.ChunkIndexHotCapacity == 0 {
		c.ChunkIndexHotCapacity = 4096
	}
	return c
}

// Repo is an open repository: one writer, unlimited concurrent readers,
// holding the embedded databases and component configuration needed to
// service every façade operation.
type Repo struct {
	dir layout.Dir
	cfg Config

	blobs      *blobboltstore.Store
	manifests  *manifestboltstore.Store
	temporal   temporal.Index
	chunkIndex *chunkindex.Index

	tree         *taxonomy.Tree
	taxonomyRoot hashcodec.Hash

	downloader *download.Downloader
	gc         *scheduledGC
	logger     *slog.Logger
}

// Init creates a repository rooted at path, if one does not already
// exist, and opens it. Init and Open are interchangeable once the
// embedded databases exist, since bbolt creates them on first open.
func Init(path string, cfg Config) (*Repo, error) {
	return Open(path, cfg)
}

// Open opens the repository rooted at path, creating its embedded
// databases if absent.
func Open(path string, cfg Config) (*Repo, error) {
	cfg = cfg.withDefaults()
	dir := layout.New(path)
	if err := dir.EnsureExists(); err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}

	logger := logging.Default(cfg.Logger).With("component", "repo", "root", path)

	blobs, err := blobboltstore.Open(blobboltstore.Config{
		KVPath:    dir.BlobDBPath(),
		ChunksDir: dir.ChunksDir(),
		Threads:   cfg.Threads,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: open blob store: %w", err)
	}

	manifests, err := manifestboltstore.Open(manifestboltstore.Config{
		Path:   dir.ManifestDBPath(),
		Logger: cfg.Logger,
	})
	if err != nil {
		blobs.Close()
		return nil, fmt.Errorf("repo: open manifest store: %w", err)
	}

	temporalStore, err := temporalboltstore.Open(temporalboltstore.Config{
		Path:   dir.TemporalDBPath(),
		Logger: cfg.Logger,
	})
	if err != nil {
		blobs.Close()
		manifests.Close()
		return nil, fmt.Errorf("repo: open temporal index: %w", err)
	}

	chunkIndex, err := chunkindex.New(cfg.ChunkIndexHotCapacity)
	if err != nil {
		blobs.Close()
		manifests.Close()
		temporalStore.Close()
		return nil, fmt.Errorf("repo: create chunk index: %w", err)
	}

	r := &Repo{
		dir:        dir,
		cfg:        cfg,
		blobs:      blobs,
		manifests:  manifests,
		temporal:   temporal.NewDedupCommits(temporalStore),
		chunkIndex: chunkIndex,
		logger:     logger,
	}
	r.downloader = r.newDownloader()

	if err := r.chunkIndex.Rebuild(r.manifests); err != nil {
		r.Close()
		return nil, fmt.Errorf("repo: rebuild chunk index: %w", err)
	}

	if err := r.loadPersistedTaxonomy(); err != nil {
		r.Close()
		return nil, fmt.Errorf("repo: load persisted taxonomy: %w", err)
	}

	if cfg.GCInterval > 0 {
		gc, err := newScheduledGC(r, cfg.GCInterval, cfg.GCGrace, logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("repo: start gc scheduler: %w", err)
		}
		r.gc = gc
	}

	return r, nil
}

// LoadTaxonomy loads the NCBI taxonomy tree used by the chunker and
// selector for taxon-aware grouping, records a content hash over the two
// source files as the repository's taxonomy root, and persists a copy
// into the repository so a later Open picks it back up without the
// caller re-supplying the source paths.
func (r *Repo) LoadTaxonomy(nodesPath, namesPath string) error {
	nodes, err := os.ReadFile(nodesPath)
	if err != nil {
		return fmt.Errorf("repo: read taxonomy sources: %w", err)
	}
	names, err := os.ReadFile(namesPath)
	if err != nil {
		return fmt.Errorf("repo: read taxonomy sources: %w", err)
	}

	treeDir := r.dir.TaxonomyTreeDir()
	if err := os.MkdirAll(treeDir, 0o750); err != nil {
		return fmt.Errorf("repo: create taxonomy directory: %w", err)
	}
	persistedNodes := filepath.Join(treeDir, "nodes.dmp")
	persistedNames := filepath.Join(treeDir, "names.dmp")
	if err := writeFileAtomic(persistedNodes, nodes, 0o644); err != nil {
		return fmt.Errorf("repo: persist nodes.dmp: %w", err)
	}
	if err := writeFileAtomic(persistedNames, names, 0o644); err != nil {
		return fmt.Errorf("repo: persist names.dmp: %w", err)
	}

	return r.applyTaxonomy(persistedNodes, persistedNames)
}

// loadPersistedTaxonomy restores a taxonomy tree this repository was
// previously told to load, if one was persisted by an earlier LoadTaxonomy
// call. Absence is not an error: plenty of repositories never load one.
func (r *Repo) loadPersistedTaxonomy() error {
	treeDir := r.dir.TaxonomyTreeDir()
	nodesPath := filepath.Join(treeDir, "nodes.dmp")
	if _, err := os.Stat(nodesPath); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return r.applyTaxonomy(nodesPath, filepath.Join(treeDir, "names.dmp"))
}

func (r *Repo) applyTaxonomy(nodesPath, namesPath string) error {
	tree, err := taxonomy.Load(nodesPath, namesPath)
	if err != nil {
		return fmt.Errorf("repo: parse taxonomy: %w", err)
	}
	nodes, err := os.ReadFile(nodesPath)
	if err != nil {
		return fmt.Errorf("repo: hash taxonomy sources: %w", err)
	}
	names, err := os.ReadFile(namesPath)
	if err != nil {
		return fmt.Errorf("repo: hash taxonomy sources: %w", err)
	}
	r.tree = tree
	r.taxonomyRoot = hashcodec.Sum(append(append([]byte(nil), nodes...), names...))
	if r.downloader != nil {
		r.downloader = r.newDownloader()
	}
	return nil
}

// Close releases the embedded databases and stops any background GC job.
func (r *Repo) Close() error {
	if r.gc != nil {
		r.gc.stop()
	}
	var firstErr error
	for _, closer := range []func() error{r.temporalCloser(), r.manifests.Close, r.blobs.Close} {
		if closer == nil {
			continue
		}
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// temporalCloser unwraps the DedupCommits decorator Open always applies
// to reach the underlying boltstore's Close.
func (r *Repo) temporalCloser() func() error {
	dedup, ok := r.temporal.(*temporal.DedupCommits)
	if !ok {
		return nil
	}
	closer, ok := dedup.Index.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close
}

func (r *Repo) newDownloaderConfig() download.Config {
	var limiter *rate.Limiter
	if r.cfg.RateLimitKBs > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimitKBs*1024), int(r.cfg.RateLimitKBs*1024))
	}
	return download.Config{
		Dir:               r.dir,
		Client:            r.cfg.HTTPClient,
		RateLimiter:       limiter,
		Blobs:             r.blobs,
		Tree:              r.tree,
		ChunkerConfig:     r.cfg.Chunker,
		SourceFactory:     r.cfg.SourceFactory,
		PreserveOnFailure: r.cfg.PreserveOnFailure,
		Logger:            r.cfg.Logger,
	}
}

func (r *Repo) newDownloader() *download.Downloader {
	return download.New(r.newDownloaderConfig())
}

// Stats summarizes repository-wide counters, independent of any one
// dataset.
type Stats struct {
	ChunkCount       int
	ReferenceChunks  int
	HotChunks        []hashcodec.Hash
	BlobVerification []blob.VerificationError
}

// Stats reports coarse repository-wide counters, served from the
// in-memory chunk index rather than rescanning the manifest store. It
// does not rehash every blob; use Verify for that.
func (r *Repo) Stats() (Stats, error) {
	return Stats{
		ChunkCount:      r.chunkIndex.Len(),
		ReferenceChunks: len(r.chunkIndex.RangeQuery(chunkindex.Range{ReferenceOnly: true})),
		HotChunks:       r.chunkIndex.Hot(16),
	}, nil
}
