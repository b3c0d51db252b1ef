// Package boltstore provides a blob.Store backed by an embedded ordered
// key-value database (go.etcd.io/bbolt) plus an optional secondary
// directory of large immutable blob files for blobs exceeding a
// configurable inline threshold, laid out under sequences/rocksdb and
// chunks/.
package boltstore

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"talaria/internal/blob"
	"talaria/internal/hashcodec"
	"talaria/internal/logging"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

var blobsBucket = []byte("blobs")

// location tags how a blob's frame bytes are stored.
type location byte

const (
	locationInline   location = 0
	locationExternal location = 1
)

// Config configures a Store.
type Config struct {
	// KVPath is the path to the embedded key-value database file
	// (sequences/rocksdb under the repository layout).
	KVPath string

	// ChunksDir is the secondary directory for blobs whose frame exceeds
	// InlineThreshold. Created on first use if missing.
	ChunksDir string

	// InlineThreshold is the largest frame size, in bytes, kept inline in
	// the key-value database. Frames larger than this are written as
	// files under ChunksDir instead. Defaults to 1 MiB.
	InlineThreshold int

	// CompressLevel is passed to hashcodec.Compress when a Put call
	// requests compression. Defaults to 3.
	CompressLevel int

	// Threads caps the number of goroutines PutMany and VerifyAll run
	// concurrently for hashing, compression and rehashing. Defaults to
	// runtime.GOMAXPROCS(0).
	Threads int

	FileMode os.FileMode
	Logger   *slog.Logger
}

// Store is a bbolt-backed blob.Store.
type Store struct {
	db        *bolt.DB
	chunksDir string
	threshold int
	level     int
	threads   int
	fileMode  os.FileMode
	logger    *slog.Logger
}

var _ blob.Store = (*Store)(nil)

var (
	// ErrMissingKVPath is returned by Open when Config.KVPath is empty.
	ErrMissingKVPath = errors.New("boltstore: KVPath is required")
)

// Open opens (creating if absent) the key-value database at cfg.KVPath and
// returns a ready Store. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	if cfg.KVPath == "" {
		return nil, ErrMissingKVPath
	}
	cfg.InlineThreshold = cmp.Or(cfg.InlineThreshold, 1<<20)
	cfg.CompressLevel = cmp.Or(cfg.CompressLevel, 3)
	cfg.Threads = cmp.Or(cfg.Threads, runtime.GOMAXPROCS(0))
	cfg.FileMode = cmp.Or(cfg.FileMode, 0o640)

	if err := os.MkdirAll(filepath.Dir(cfg.KVPath), 0o750); err != nil {
		return nil, fmt.Errorf("boltstore: create kv directory: %w", err)
	}

	db, err := bolt.Open(cfg.KVPath, cfg.FileMode, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", cfg.KVPath, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	logger := logging.Default(cfg.Logger).With("component", "blob-store", "type", "bolt")
	logger.Debug("opened blob store", "path", cfg.KVPath)

	return &Store{
		db:        db,
		chunksDir: cfg.ChunksDir,
		threshold: cfg.InlineThreshold,
		level:     cfg.CompressLevel,
		threads:   cfg.Threads,
		fileMode:  cfg.FileMode,
		logger:    logger,
	}, nil
}

// Close releases the underlying database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(data []byte, compress bool) (hashcodec.Hash, error) {
	hashes, err := s.PutMany([][]byte{data}, compress)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return hashes[0], nil
}

// hashedItem is one item's hash-and-compress result, computed outside any
// bolt transaction so the CPU-bound work can run across goroutines.
type hashedItem struct {
	hash  hashcodec.Hash
	frame []byte
}

func (s *Store) PutMany(items [][]byte, compress bool) ([]hashcodec.Hash, error) {
	codec := hashcodec.CodecRaw
	if compress {
		codec = hashcodec.CodecZstd
	}

	hashes := make([]hashcodec.Hash, len(items))
	hashed := make([]hashedItem, len(items))

	var g errgroup.Group
	g.SetLimit(s.threads)
	for i, data := range items {
		g.Go(func() error {
			h := hashcodec.Sum(data)
			frame, err := hashcodec.Compress(data, codec, s.level)
			if err != nil {
				return fmt.Errorf("compress blob %s: %w", h, err)
			}
			hashes[i] = h
			hashed[i] = hashedItem{hash: h, frame: frame[1:]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("boltstore: put: %w", err)
	}

	type pending struct {
		hash  hashcodec.Hash
		frame []byte
	}
	var toStore []pending

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		seen := make(map[hashcodec.Hash]bool, len(hashed))
		for _, h := range hashed {
			if seen[h.hash] || b.Get(h.hash[:]) != nil {
				continue
			}
			seen[h.hash] = true
			toStore = append(toStore, pending{hash: h.hash, frame: h.frame})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: put: %w", err)
	}
	if len(toStore) == 0 {
		return hashes, nil
	}

	return hashes, s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		for _, p := range toStore {
			// Re-check inside the write transaction: another writer may
			// have stored this hash between the View snapshot and now.
			if b.Get(p.hash[:]) != nil {
				continue
			}
			if err := s.store(b, p.hash, codec, p.frame); err != nil {
				return err
			}
		}
		return nil
	})
}

// store writes one entry's value record into b, spilling the frame to an
// external file under chunksDir when it exceeds threshold.
func (s *Store) store(b *bolt.Bucket, h hashcodec.Hash, codec hashcodec.Codec, frame []byte) error {
	if s.chunksDir != "" && len(frame) > s.threshold {
		path := s.externalPath(h)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create chunks directory: %w", err)
		}
		if err := writeFileAtomic(path, frame, s.fileMode); err != nil {
			return fmt.Errorf("write external blob %s: %w", h, err)
		}
		record := []byte{byte(locationExternal), byte(codec)}
		return b.Put(h[:], record)
	}

	record := make([]byte, 0, 2+len(frame))
	record = append(record, byte(locationInline), byte(codec))
	record = append(record, frame...)
	return b.Put(h[:], record)
}

func (s *Store) externalPath(h hashcodec.Hash) string {
	hex := h.String()
	return filepath.Join(s.chunksDir, hex[:2], hex+".blob")
}

func (s *Store) Get(hash hashcodec.Hash) ([]byte, error) {
	var record []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get(hash[:])
		if v == nil {
			return nil
		}
		record = make([]byte, len(v))
		copy(record, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get %s: %w", hash, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, hash)
	}

	loc, codec := location(record[0]), hashcodec.Codec(record[1])
	var frame []byte
	switch loc {
	case locationInline:
		frame = record[2:]
	case locationExternal:
		f, err := os.ReadFile(s.externalPath(hash))
		if err != nil {
			return nil, fmt.Errorf("boltstore: read external blob %s: %w", hash, err)
		}
		frame = f
	default:
		return nil, fmt.Errorf("boltstore: blob %s: unknown location tag %d", hash, loc)
	}

	data, err := hashcodec.Decompress(append([]byte{byte(codec)}, frame...))
	if err != nil {
		return nil, fmt.Errorf("boltstore: decode blob %s: %w", hash, err)
	}
	if got := hashcodec.Sum(data); got != hash {
		return nil, fmt.Errorf("%w: %s rehashes to %s", blob.ErrCorrupted, hash, got)
	}
	return data, nil
}

func (s *Store) Has(hash hashcodec.Hash) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(blobsBucket).Get(hash[:]) != nil
		return nil
	})
	return found, err
}

func (s *Store) All() ([]hashcodec.Hash, error) {
	var hashes []hashcodec.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).ForEach(func(k, v []byte) error {
			var hash hashcodec.Hash
			copy(hash[:], k)
			hashes = append(hashes, hash)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list blobs: %w", err)
	}
	return hashes, nil
}

func (s *Store) Remove(hash hashcodec.Hash) error {
	var externalPath string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		v := b.Get(hash[:])
		if v != nil && location(v[0]) == locationExternal {
			externalPath = s.externalPath(hash)
		}
		return b.Delete(hash[:])
	})
	if err != nil {
		return fmt.Errorf("boltstore: remove %s: %w", hash, err)
	}
	if externalPath != "" {
		if err := os.Remove(externalPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("boltstore: remove external blob %s: %w", hash, err)
		}
	}
	return nil
}

// verifyEntry is one blob record pulled out of the bucket before the
// read transaction closes, so the actual decompress-and-rehash work (the
// expensive part, especially for external blobs) can run outside the
// transaction and in parallel.
type verifyEntry struct {
	hash     hashcodec.Hash
	codec    hashcodec.Codec
	external bool
	frame    []byte
}

func (s *Store) VerifyAll() ([]blob.VerificationError, error) {
	var entries []verifyEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).ForEach(func(k, v []byte) error {
			var hash hashcodec.Hash
			copy(hash[:], k)
			e := verifyEntry{hash: hash, codec: hashcodec.Codec(v[1]), external: location(v[0]) == locationExternal}
			if !e.external {
				e.frame = append([]byte(nil), v[2:]...)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var problems []blob.VerificationError
	report := func(hash hashcodec.Hash, err error) {
		mu.Lock()
		problems = append(problems, blob.VerificationError{Hash: hash, Err: err})
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.threads)
	for _, e := range entries {
		g.Go(func() error {
			frame := e.frame
			if e.external {
				f, err := os.ReadFile(s.externalPath(e.hash))
				if err != nil {
					report(e.hash, err)
					return nil
				}
				frame = f
			}
			data, err := hashcodec.Decompress(append([]byte{byte(e.codec)}, frame...))
			if err != nil {
				report(e.hash, err)
				return nil
			}
			if got := hashcodec.Sum(data); got != e.hash {
				report(e.hash, fmt.Errorf("rehashes to %s", got))
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(problems, func(i, j int) bool {
		return bytes.Compare(problems[i].Hash[:], problems[j].Hash[:]) < 0
	})
	return problems, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".blob-*")
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
