// Package boltstore provides a manifest.Store backed by an embedded
// ordered key-value database (go.etcd.io/bbolt). Chunk, reduction, and
// temporal manifests are stored by content hash; "current" pointers and
// aliases are stored per (source, dataset).
//
// bbolt transactions give the current pointer the atomicity readers need
// (the old or the new value, never a partial write) without a separate
// symlink/rename step.
package boltstore

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"talaria/internal/hashcodec"
	"talaria/internal/logging"
	"talaria/internal/manifest"

	bolt "go.etcd.io/bbolt"
)

var (
	chunksBucket     = []byte("chunks")
	reductionsBucket = []byte("reductions")
	temporalsBucket  = []byte("temporals")
	currentBucket    = []byte("current")
	aliasesBucket    = []byte("aliases")
)

// ErrMissingPath is returned by Open when Config.Path is empty.
var ErrMissingPath = errors.New("boltstore: Path is required")

// Config configures a Store.
type Config struct {
	Path     string
	FileMode os.FileMode
	Logger   *slog.Logger
}

// Store is a bbolt-backed manifest.Store.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

var _ manifest.Store = (*Store)(nil)

// Open opens (creating if absent) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, ErrMissingPath
	}
	cfg.FileMode = cmp.Or(cfg.FileMode, 0o640)

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("boltstore: create directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, cfg.FileMode, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", cfg.Path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, reductionsBucket, temporalsBucket, currentBucket, aliasesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.Default(cfg.Logger).With("component", "manifest-store", "type", "bolt"),
	}, nil
}

// Close releases the underlying database file lock.
func (s *Store) Close() error { return s.db.Close() }

func datasetKey(ref manifest.DatasetRef, suffix string) []byte {
	key := ref.Source + "\x00" + ref.Dataset
	if suffix != "" {
		key += "\x00" + suffix
	}
	return []byte(key)
}

func (s *Store) PutChunk(c manifest.Chunk) (hashcodec.Hash, error) {
	h, err := manifest.HashChunk(c)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	b, err := manifest.CanonicalBytes(c)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return h, s.putIfAbsent(chunksBucket, h, b)
}

func (s *Store) GetChunk(hash hashcodec.Hash) (manifest.Chunk, error) {
	var c manifest.Chunk
	err := s.get(chunksBucket, hash, &c)
	return c, err
}

func (s *Store) AllChunks() ([]manifest.Chunk, error) {
	var out []manifest.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chunksBucket).ForEach(func(_, v []byte) error {
			var c manifest.Chunk
			if err := decodeInto(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: all chunks: %w", err)
	}
	return out, nil
}

func (s *Store) PutReduction(r manifest.Reduction) (hashcodec.Hash, error) {
	h, err := manifest.HashReduction(r)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	b, err := manifest.CanonicalBytes(r)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return h, s.putIfAbsent(reductionsBucket, h, b)
}

func (s *Store) GetReduction(hash hashcodec.Hash) (manifest.Reduction, error) {
	var r manifest.Reduction
	err := s.get(reductionsBucket, hash, &r)
	return r, err
}

func (s *Store) PutTemporal(m manifest.Temporal) (hashcodec.Hash, error) {
	b, err := manifest.CanonicalBytes(m)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	h := hashcodec.Sum(b)
	return h, s.putIfAbsent(temporalsBucket, h, b)
}

func (s *Store) GetTemporal(hash hashcodec.Hash) (manifest.Temporal, error) {
	var m manifest.Temporal
	err := s.get(temporalsBucket, hash, &m)
	return m, err
}

func (s *Store) putIfAbsent(bucket []byte, h hashcodec.Hash, encoded []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get(h[:]) != nil {
			return nil
		}
		return b.Put(h[:], encoded)
	})
}

func (s *Store) get(bucket []byte, h hashcodec.Hash, out any) error {
	var encoded []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(h[:])
		if v == nil {
			return nil
		}
		encoded = make([]byte, len(v))
		copy(encoded, v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: get %s: %w", h, err)
	}
	if encoded == nil {
		return fmt.Errorf("%w: %s", manifest.ErrNotFound, h)
	}
	return decodeInto(encoded, out)
}

func (s *Store) SetCurrent(ref manifest.DatasetRef, hash hashcodec.Hash) error {
	key := datasetKey(ref, "")
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(currentBucket).Put(key, hash[:])
	})
}

func (s *Store) Current(ref manifest.DatasetRef) (hashcodec.Hash, error) {
	key := datasetKey(ref, "")
	var hash hashcodec.Hash
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(currentBucket).Get(key)
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		found = true
		return nil
	})
	if err != nil {
		return hashcodec.Hash{}, err
	}
	if !found {
		return hashcodec.Hash{}, fmt.Errorf("%w: current pointer for %+v", manifest.ErrNotFound, ref)
	}
	return hash, nil
}

func (s *Store) PutAlias(ref manifest.DatasetRef, alias, version string) error {
	if err := manifest.ValidateAlias(alias); err != nil {
		return err
	}
	key := datasetKey(ref, alias)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(aliasesBucket).Put(key, []byte(version))
	})
}

func (s *Store) ResolveAlias(ref manifest.DatasetRef, alias string) (string, error) {
	key := datasetKey(ref, alias)
	var version string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(aliasesBucket).Get(key)
		if v == nil {
			return nil
		}
		version = string(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	if version == "" {
		return "", fmt.Errorf("%w: alias %q for %+v", manifest.ErrNotFound, alias, ref)
	}
	return version, nil
}

func (s *Store) ListAliases(ref manifest.DatasetRef) (map[string]string, error) {
	prefix := datasetKey(ref, "")
	prefix = append(prefix, '\x00')
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(aliasesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			alias := string(k[len(prefix):])
			out[alias] = string(v)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteAlias(ref manifest.DatasetRef, alias string) error {
	key := datasetKey(ref, alias)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(aliasesBucket).Delete(key)
	})
}
