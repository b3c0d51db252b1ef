// Package boltstore provides a temporal.Index backed by an embedded
// ordered key-value database (go.etcd.io/bbolt). Coordinates are encoded
// as fixed-width big-endian keys (temporal.EncodeCoordinate) so that a
// cursor seek followed by a backward scan finds the greatest committed
// coordinate componentwise less than or equal to a query.
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
	"talaria/internal/temporal"

	bolt "go.etcd.io/bbolt"
)

var commitsBucket = []byte("commits")

// ErrMissingPath is returned by Open when Config.Path is empty.
var ErrMissingPath = errors.New("boltstore: Path is required")

// Config configures a Store.
type Config struct {
	Path     string
	FileMode os.FileMode
	Logger   *slog.Logger
}

// Store is a bbolt-backed temporal.Index.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

var _ temporal.Index = (*Store)(nil)

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
		_, err := tx.CreateBucketIfNotExists(commitsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.Default(cfg.Logger).With("component", "temporal-index", "type", "bolt"),
	}, nil
}

// Close releases the underlying database file lock.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Commit(coord manifest.Coordinate, hash hashcodec.Hash) error {
	key := temporal.EncodeCoordinate(coord)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(commitsBucket)
		existing := b.Get(key[:])
		if existing != nil {
			if bytes.Equal(existing, hash[:]) {
				return nil
			}
			return fmt.Errorf("%w: %+v", temporal.ErrCoordinateRecommitted, coord)
		}
		return b.Put(key[:], hash[:])
	})
}

func (s *Store) QueryAt(coord manifest.Coordinate) (temporal.Snapshot, error) {
	target := temporal.EncodeCoordinate(coord)
	var found temporal.Snapshot
	ok := false

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(commitsBucket).Cursor()
		k, v := c.Seek(target[:])
		if k == nil {
			k, v = c.Last()
		} else if !bytes.Equal(k, target[:]) {
			k, v = c.Prev()
		}
		for k != nil {
			var key [16]byte
			copy(key[:], k)
			candidate := temporal.DecodeCoordinate(key)
			if !candidate.SequenceTime.After(coord.SequenceTime) && !candidate.TaxonomyTime.After(coord.TaxonomyTime) {
				var hash hashcodec.Hash
				copy(hash[:], v)
				found = temporal.Snapshot{Coordinate: candidate, Hash: hash}
				ok = true
				return nil
			}
			k, v = c.Prev()
		}
		return nil
	})
	if err != nil {
		return temporal.Snapshot{}, err
	}
	if !ok {
		return temporal.Snapshot{}, temporal.ErrNoSnapshot
	}
	return found, nil
}

func (s *Store) History(limit int) ([]temporal.VersionRecord, error) {
	var out []temporal.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(commitsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var key [16]byte
			copy(key[:], k)
			var hash hashcodec.Hash
			copy(hash[:], v)
			out = append(out, temporal.Snapshot{Coordinate: temporal.DecodeCoordinate(key), Hash: hash})
		}
		return nil
	})
	return out, err
}
