// Package memstore provides an in-memory blob.Store implementation.
// Intended for tests and scratch repositories; nothing is persisted.
package memstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"talaria/internal/blob"
	"talaria/internal/hashcodec"
)

type entry struct {
	codec hashcodec.Codec
	frame []byte // codec frame, without the leading tag byte
}

// Store is an in-memory blob.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[hashcodec.Hash]entry

	// CompressLevel is the level passed to hashcodec when compress=true
	// is requested. Defaults to 3 (zstd.SpeedDefault-equivalent) if unset.
	CompressLevel int
}

var _ blob.Store = (*Store)(nil)

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{entries: make(map[hashcodec.Hash]entry), CompressLevel: 3}
}

func (s *Store) Put(data []byte, compress bool) (hashcodec.Hash, error) {
	hashes, err := s.PutMany([][]byte{data}, compress)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return hashes[0], nil
}

func (s *Store) PutMany(items [][]byte, compress bool) ([]hashcodec.Hash, error) {
	codec := hashcodec.CodecRaw
	if compress {
		codec = hashcodec.CodecZstd
	}

	hashes := make([]hashcodec.Hash, len(items))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, data := range items {
		h := hashcodec.Sum(data)
		hashes[i] = h
		if _, exists := s.entries[h]; exists {
			continue
		}
		framed, err := hashcodec.Compress(data, codec, s.CompressLevel)
		if err != nil {
			return nil, fmt.Errorf("memstore: compress blob %s: %w", h, err)
		}
		s.entries[h] = entry{codec: codec, frame: framed[1:]} // strip Compress's own tag byte
	}
	return hashes, nil
}

func (s *Store) Get(hash hashcodec.Hash) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, hash)
	}

	data, err := hashcodec.Decompress(append([]byte{byte(e.codec)}, e.frame...))
	if err != nil {
		return nil, fmt.Errorf("memstore: decode blob %s: %w", hash, err)
	}
	if got := hashcodec.Sum(data); got != hash {
		return nil, fmt.Errorf("%w: %s rehashes to %s", blob.ErrCorrupted, hash, got)
	}
	return data, nil
}

func (s *Store) Has(hash hashcodec.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[hash]
	return ok, nil
}

func (s *Store) Remove(hash hashcodec.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hash)
	return nil
}

func (s *Store) All() ([]hashcodec.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]hashcodec.Hash, 0, len(s.entries))
	for h := range s.entries {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	return hashes, nil
}

func (s *Store) VerifyAll() ([]blob.VerificationError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var problems []blob.VerificationError
	for hash, e := range s.entries {
		data, err := hashcodec.Decompress(append([]byte{byte(e.codec)}, e.frame...))
		if err != nil {
			problems = append(problems, blob.VerificationError{Hash: hash, Err: err})
			continue
		}
		if got := hashcodec.Sum(data); got != hash {
			problems = append(problems, blob.VerificationError{
				Hash: hash,
				Err:  fmt.Errorf("rehashes to %s", got),
			})
		}
	}
	sort.Slice(problems, func(i, j int) bool {
		return bytes.Compare(problems[i].Hash[:], problems[j].Hash[:]) < 0
	})
	return problems, nil
}
