// Package chunkindex maintains the in-memory chunk index: a by-hash
// metadata table and a by-taxon inverted index, both rebuildable from the
// manifest store on cold start.
package chunkindex

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/syncutil"
)

// Metadata wraps one chunk manifest with the index's own bookkeeping:
// whether the chunk currently serves as a reference chunk in some
// reduction. Access recency is tracked by the Index, not here.
type Metadata struct {
	Chunk       manifest.Chunk
	IsReference bool
}

// Index answers by-hash lookups, by-taxon OR queries, size-band and
// reference-flag range queries, and tracks access recency for hot-chunk
// prefetching.
type Index struct {
	mu       sync.RWMutex
	byHash   map[hashcodec.Hash]Metadata
	byTaxon  map[uint32]map[hashcodec.Hash]struct{}
	accessed *lru.Cache[hashcodec.Hash, struct{}]

	rebuilding syncutil.Dedup[struct{}, struct{}]
}

// New creates an empty index. hotCapacity bounds how many distinct
// hashes the access-recency tracker retains; it does not bound the index
// itself. A non-positive hotCapacity disables access tracking.
func New(hotCapacity int) (*Index, error) {
	idx := &Index{
		byHash:  make(map[hashcodec.Hash]Metadata),
		byTaxon: make(map[uint32]map[hashcodec.Hash]struct{}),
	}
	if hotCapacity > 0 {
		cache, err := lru.New[hashcodec.Hash, struct{}](hotCapacity)
		if err != nil {
			return nil, fmt.Errorf("chunkindex: create access tracker: %w", err)
		}
		idx.accessed = cache
	}
	return idx, nil
}

// Rebuild scans every chunk manifest in store and reconstructs the index
// from scratch. Rebuild is idempotent: calling it repeatedly against an
// unchanged store always yields the same index contents, and reference
// flags and access recency from before the rebuild are discarded.
//
// Concurrent callers racing to rebuild collapse into a single scan of
// store; the losers wait for the winner's result instead of each issuing
// their own AllChunks call.
func (idx *Index) Rebuild(store manifest.Store) error {
	_, err := idx.rebuilding.Do(struct{}{}, func() (struct{}, error) {
		return struct{}{}, idx.rebuildOnce(store)
	})
	return err
}

func (idx *Index) rebuildOnce(store manifest.Store) error {
	chunks, err := store.AllChunks()
	if err != nil {
		return fmt.Errorf("chunkindex: rebuild: %w", err)
	}

	byHash := make(map[hashcodec.Hash]Metadata, len(chunks))
	byTaxon := make(map[uint32]map[hashcodec.Hash]struct{})
	for _, c := range chunks {
		byHash[c.Hash] = Metadata{Chunk: c}
		for _, taxon := range c.TaxonIDs {
			if byTaxon[taxon] == nil {
				byTaxon[taxon] = make(map[hashcodec.Hash]struct{})
			}
			byTaxon[taxon][c.Hash] = struct{}{}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byHash = byHash
	idx.byTaxon = byTaxon
	return nil
}

// Put adds or replaces one chunk's entry without a full rebuild, used by
// the chunker's write path to keep the index current incrementally.
func (idx *Index) Put(c manifest.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.byHash[c.Hash]; ok {
		for _, taxon := range existing.Chunk.TaxonIDs {
			delete(idx.byTaxon[taxon], c.Hash)
		}
	}

	isReference := idx.byHash[c.Hash].IsReference
	idx.byHash[c.Hash] = Metadata{Chunk: c, IsReference: isReference}
	for _, taxon := range c.TaxonIDs {
		if idx.byTaxon[taxon] == nil {
			idx.byTaxon[taxon] = make(map[hashcodec.Hash]struct{})
		}
		idx.byTaxon[taxon][c.Hash] = struct{}{}
	}
}

// Remove drops hash from the index entirely, along with its taxon
// memberships. Used by garbage collection to keep the index from
// outliving the blob it describes.
func (idx *Index) Remove(hash hashcodec.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.byHash[hash]
	if !ok {
		return
	}
	for _, taxon := range m.Chunk.TaxonIDs {
		delete(idx.byTaxon[taxon], hash)
	}
	delete(idx.byHash, hash)
	if idx.accessed != nil {
		idx.accessed.Remove(hash)
	}
}

// SetReference records whether hash currently serves as a reference
// chunk in some reduction. A no-op if hash is not indexed.
func (idx *Index) SetReference(hash hashcodec.Hash, isReference bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.byHash[hash]
	if !ok {
		return
	}
	m.IsReference = isReference
	idx.byHash[hash] = m
}

// ByHash returns the metadata stored for hash, recording an access for
// recency tracking.
func (idx *Index) ByHash(hash hashcodec.Hash) (Metadata, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.byHash[hash]
	if ok && idx.accessed != nil {
		idx.accessed.Add(hash, struct{}{})
	}
	return m, ok
}

// ByTaxon returns every indexed chunk whose taxon_ids contain at least
// one of taxa (an OR query across taxa).
func (idx *Index) ByTaxon(taxa ...uint32) []Metadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[hashcodec.Hash]struct{})
	var out []Metadata
	for _, taxon := range taxa {
		for hash := range idx.byTaxon[taxon] {
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			out = append(out, idx.byHash[hash])
		}
	}
	return out
}

// Range is a size-band and reference-flag filter for RangeQuery.
type Range struct {
	MinSize uint64
	MaxSize uint64 // zero means unbounded

	// ReferenceOnly, when true, returns only chunks marked as reference
	// chunks via SetReference.
	ReferenceOnly bool
}

// RangeQuery returns every indexed chunk whose size falls within
// [r.MinSize, r.MaxSize] (MaxSize zero means unbounded), further filtered
// to reference chunks if r.ReferenceOnly is set.
func (idx *Index) RangeQuery(r Range) []Metadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Metadata
	for _, m := range idx.byHash {
		if m.Chunk.Size < r.MinSize {
			continue
		}
		if r.MaxSize > 0 && m.Chunk.Size > r.MaxSize {
			continue
		}
		if r.ReferenceOnly && !m.IsReference {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk.Hash.String() < out[j].Chunk.Hash.String() })
	return out
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byHash)
}

// Hot returns up to n most-recently-accessed hashes, most recent first,
// for hot-chunk prefetching. Returns nil if access tracking is disabled.
func (idx *Index) Hot(n int) []hashcodec.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.accessed == nil {
		return nil
	}
	keys := idx.accessed.Keys() // oldest first
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}
	out := make([]hashcodec.Hash, n)
	for i := 0; i < n; i++ {
		out[i] = keys[len(keys)-1-i]
	}
	return out
}
