package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"

	"talaria/internal/hashcodec"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a manifest or pointer is requested but
// absent.
var ErrNotFound = errors.New("manifest: not found")

// ErrInvalidAlias is returned by PutAlias for a reserved, malformed, or
// ambiguous alias name.
var ErrInvalidAlias = errors.New("manifest: invalid alias")

// reservedAliases may never be used as a user-defined alias: they either
// name an intrinsic pointer or a directory the repository layout already
// uses for something else.
var reservedAliases = map[string]bool{
	"current": true, "stable": true, "latest": true, "previous": true,
	"chunks": true, "manifests": true, "versions": true,
}

// intrinsicTimestampFormat matches the repository's own 15-char version
// timestamp format (YYYYMMDD_HHMMSS), which an alias may not collide with
// since a bare version identifier must always be unambiguous between "is
// this a literal version or an alias".
var intrinsicTimestampFormat = regexp.MustCompile(`^\d{8}_\d{6}$`)

// ValidateAlias reports whether alias is acceptable as a user-defined
// version alias.
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: empty alias", ErrInvalidAlias)
	}
	if reservedAliases[alias] {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidAlias, alias)
	}
	if alias != filepath.Base(alias) || filepath.Clean(alias) != alias {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidAlias, alias)
	}
	if intrinsicTimestampFormat.MatchString(alias) {
		return fmt.Errorf("%w: %q collides with the intrinsic version timestamp format", ErrInvalidAlias, alias)
	}
	return nil
}

// CanonicalBytes returns the deterministic MessagePack encoding of v,
// used both for persistence and as the input to content hashing. v must
// be one of Chunk, Reduction or Temporal (struct field order is the encoding
// order, making the result stable across runs).
func CanonicalBytes(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return b, nil
}

// HashChunk returns the content hash of a Chunk's canonical serialization.
func HashChunk(c Chunk) (hashcodec.Hash, error) {
	b, err := CanonicalBytes(c)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return hashcodec.Sum(b), nil
}

// HashReduction returns the content hash of a Reduction's canonical
// serialization.
func HashReduction(r Reduction) (hashcodec.Hash, error) {
	b, err := CanonicalBytes(r)
	if err != nil {
		return hashcodec.Hash{}, err
	}
	return hashcodec.Sum(b), nil
}

// DatasetRef identifies one (source, dataset) pair, e.g. ("uniprot", "swissprot").
type DatasetRef struct {
	Source  string
	Dataset string
}

// Store persists chunk and reduction manifests by their content hashes,
// plus named pointers: the current temporal manifest per dataset, and
// user-defined version aliases.
type Store interface {
	// PutChunk stores a chunk manifest and returns its content hash.
	// Storing an already-present manifest is a no-op.
	PutChunk(c Chunk) (hashcodec.Hash, error)
	// GetChunk returns the chunk manifest stored under hash.
	GetChunk(hash hashcodec.Hash) (Chunk, error)
	// AllChunks returns every stored chunk manifest, in no particular
	// order. Used by the chunk index to rebuild itself from cold start.
	AllChunks() ([]Chunk, error)

	// PutReduction stores a reduction manifest and returns its content hash.
	PutReduction(r Reduction) (hashcodec.Hash, error)
	// GetReduction returns the reduction manifest stored under hash.
	GetReduction(hash hashcodec.Hash) (Reduction, error)

	// PutTemporal stores a temporal manifest and returns its content hash.
	PutTemporal(m Temporal) (hashcodec.Hash, error)
	// GetTemporal returns the temporal manifest stored under hash.
	GetTemporal(hash hashcodec.Hash) (Temporal, error)

	// SetCurrent atomically updates the "current" pointer for ref to
	// hash. Readers of Current always see the old or the new value,
	// never a partial write.
	SetCurrent(ref DatasetRef, hash hashcodec.Hash) error
	// Current returns the current temporal manifest hash for ref.
	Current(ref DatasetRef) (hashcodec.Hash, error)

	// PutAlias maps alias to version within ref, after validating alias
	// with ValidateAlias.
	PutAlias(ref DatasetRef, alias, version string) error
	// ResolveAlias returns the version an alias names within ref.
	ResolveAlias(ref DatasetRef, alias string) (string, error)
	// ListAliases returns every alias defined for ref.
	ListAliases(ref DatasetRef) (map[string]string, error)
	// DeleteAlias removes alias from ref, if present.
	DeleteAlias(ref DatasetRef, alias string) error
}

// SortTaxonIDs returns a sorted copy of taxa with duplicates removed, for
// building Chunk.TaxonIDs (the Chunker invariant: taxon_ids is the sorted
// distinct set of a chunk's sequences' taxa).
func SortTaxonIDs(taxa []uint32) []uint32 {
	out := slices.Clone(taxa)
	slices.Sort(out)
	return slices.Compact(out)
}
