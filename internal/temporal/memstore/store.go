// Package memstore provides an in-memory temporal.Index implementation,
// for tests and scratch repositories.
package memstore

import (
	"fmt"
	"sort"
	"sync"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/temporal"
)

type entry struct {
	key  [16]byte
	hash hashcodec.Hash
}

// Store is an in-memory temporal.Index, ordered by coordinate key.
type Store struct {
	mu      sync.Mutex
	entries []entry // kept sorted by key
}

var _ temporal.Index = (*Store)(nil)

// New creates an empty in-memory temporal index.
func New() *Store {
	return &Store{}
}

func (s *Store) Commit(coord manifest.Coordinate, hash hashcodec.Hash) error {
	key := temporal.EncodeCoordinate(coord)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.entries), func(i int) bool { return string(s.entries[i].key[:]) >= string(key[:]) })
	if i < len(s.entries) && s.entries[i].key == key {
		if s.entries[i].hash != hash {
			return fmt.Errorf("%w: %+v", temporal.ErrCoordinateRecommitted, coord)
		}
		return nil
	}

	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = entry{key: key, hash: hash}
	return nil
}

func (s *Store) QueryAt(coord manifest.Coordinate) (temporal.Snapshot, error) {
	key := temporal.EncodeCoordinate(coord)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if string(s.entries[i].key[:]) > string(key[:]) {
			continue
		}
		candidate := temporal.DecodeCoordinate(s.entries[i].key)
		if candidate.SequenceTime.After(coord.SequenceTime) || candidate.TaxonomyTime.After(coord.TaxonomyTime) {
			continue
		}
		return temporal.Snapshot{Coordinate: candidate, Hash: s.entries[i].hash}, nil
	}
	return temporal.Snapshot{}, temporal.ErrNoSnapshot
}

func (s *Store) History(limit int) ([]temporal.VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]temporal.VersionRecord, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, temporal.Snapshot{
			Coordinate: temporal.DecodeCoordinate(s.entries[i].key),
			Hash:       s.entries[i].hash,
		})
	}
	return out, nil
}
