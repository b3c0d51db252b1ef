// Package memstore provides an in-memory manifest.Store implementation,
// for tests and scratch repositories.
package memstore

import (
	"fmt"
	"maps"
	"sync"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
)

// Store is an in-memory manifest.Store.
type Store struct {
	mu sync.RWMutex

	chunks     map[hashcodec.Hash]manifest.Chunk
	reductions map[hashcodec.Hash]manifest.Reduction
	temporals  map[hashcodec.Hash]manifest.Temporal

	current map[manifest.DatasetRef]hashcodec.Hash
	aliases map[manifest.DatasetRef]map[string]string
}

var _ manifest.Store = (*Store)(nil)

// New creates an empty in-memory manifest store.
func New() *Store {
	return &Store{
		chunks:     make(map[hashcodec.Hash]manifest.Chunk),
		reductions: make(map[hashcodec.Hash]manifest.Reduction),
		temporals:  make(map[hashcodec.Hash]manifest.Temporal),
		current:    make(map[manifest.DatasetRef]hashcodec.Hash),
		aliases:    make(map[manifest.DatasetRef]map[string]string),
	}
}

func (s *Store) PutChunk(c manifest.Chunk) (hashcodec.Hash, error) {
	h, err := manifest.HashChunk(c)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chunks[h]; !exists {
		s.chunks[h] = c
	}
	return h, nil
}

func (s *Store) GetChunk(hash hashcodec.Hash) (manifest.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[hash]
	if !ok {
		return manifest.Chunk{}, fmt.Errorf("%w: chunk %s", manifest.ErrNotFound, hash)
	}
	return c, nil
}

func (s *Store) AllChunks() ([]manifest.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]manifest.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) PutReduction(r manifest.Reduction) (hashcodec.Hash, error) {
	h, err := manifest.HashReduction(r)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reductions[h]; !exists {
		s.reductions[h] = r
	}
	return h, nil
}

func (s *Store) GetReduction(hash hashcodec.Hash) (manifest.Reduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reductions[hash]
	if !ok {
		return manifest.Reduction{}, fmt.Errorf("%w: reduction %s", manifest.ErrNotFound, hash)
	}
	return r, nil
}

func (s *Store) PutTemporal(m manifest.Temporal) (hashcodec.Hash, error) {
	b, err := manifest.CanonicalBytes(m)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	h := hashcodec.Sum(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.temporals[h]; !exists {
		s.temporals[h] = m
	}
	return h, nil
}

func (s *Store) GetTemporal(hash hashcodec.Hash) (manifest.Temporal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.temporals[hash]
	if !ok {
		return manifest.Temporal{}, fmt.Errorf("%w: temporal %s", manifest.ErrNotFound, hash)
	}
	return m, nil
}

func (s *Store) SetCurrent(ref manifest.DatasetRef, hash hashcodec.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[ref] = hash
	return nil
}

func (s *Store) Current(ref manifest.DatasetRef) (hashcodec.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.current[ref]
	if !ok {
		return hashcodec.Hash{}, fmt.Errorf("%w: current pointer for %+v", manifest.ErrNotFound, ref)
	}
	return h, nil
}

func (s *Store) PutAlias(ref manifest.DatasetRef, alias, version string) error {
	if err := manifest.ValidateAlias(alias); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aliases[ref] == nil {
		s.aliases[ref] = make(map[string]string)
	}
	s.aliases[ref][alias] = version
	return nil
}

func (s *Store) ResolveAlias(ref manifest.DatasetRef, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.aliases[ref][alias]
	if !ok {
		return "", fmt.Errorf("%w: alias %q for %+v", manifest.ErrNotFound, alias, ref)
	}
	return version, nil
}

func (s *Store) ListAliases(ref manifest.DatasetRef) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliases[ref]))
	maps.Copy(out, s.aliases[ref])
	return out, nil
}

func (s *Store) DeleteAlias(ref manifest.DatasetRef, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aliases[ref], alias)
	return nil
}
