package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
)

// Reference names one (source, dataset), optionally pinned to a profile
// and/or a version, in the shape source/dataset[:profile][@version].
type Reference struct {
	Source  string
	Dataset string
	Profile string
	Version string
}

// ErrInvalidReference is returned by ParseReference for malformed input.
var ErrInvalidReference = errors.New("repo: invalid reference")

// ParseReference parses a reference string of the shape
// source/dataset[:profile][@version]. A missing profile later resolves
// to the full (unreduced) dataset.
func ParseReference(s string) (Reference, error) {
	rest := s
	var version string
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		version = rest[i+1:]
		rest = rest[:i]
	}
	var profile string
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		profile = rest[i+1:]
		rest = rest[:i]
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Reference{}, fmt.Errorf("%w: %q: want source/dataset[:profile][@version]", ErrInvalidReference, s)
	}
	return Reference{Source: parts[0], Dataset: parts[1], Profile: profile, Version: version}, nil
}

func (r Reference) datasetRef() manifest.DatasetRef {
	return manifest.DatasetRef{Source: r.Source, Dataset: r.Dataset}
}

// versionMetadata is the persisted content of a version's metadata.json:
// the upstream provenance spec.md §6 names, extended with the temporal
// manifest hash and bi-temporal coordinate a version string resolves to,
// since manifest.Store only ever keys a temporal manifest by its content
// hash.
type versionMetadata struct {
	UpstreamVersion   string              `json:"upstream_version"`
	ChecksumAlgorithm string              `json:"checksum_algorithm,omitempty"`
	Checksum          string              `json:"checksum,omitempty"`
	TotalBytes        uint64              `json:"total_bytes,omitempty"`
	TemporalHash      hashcodec.Hash      `json:"temporal_hash"`
	Coordinate        manifest.Coordinate `json:"coordinate"`
	CreatedAt         time.Time           `json:"created_at"`
}

func (r *Repo) writeVersionMetadata(source, dataset, version string, md versionMetadata) error {
	path := r.dir.MetadataPath(source, dataset, version)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("repo: create version directory: %w", err)
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("repo: encode version metadata: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// ErrVersionNotFound is returned when a literal version id names no
// metadata.json on disk.
var ErrVersionNotFound = errors.New("repo: version not found")

func (r *Repo) readVersionMetadata(source, dataset, version string) (versionMetadata, error) {
	path := r.dir.MetadataPath(source, dataset, version)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return versionMetadata{}, fmt.Errorf("%w: %s/%s@%s", ErrVersionNotFound, source, dataset, version)
	}
	if err != nil {
		return versionMetadata{}, fmt.Errorf("repo: read version metadata: %w", err)
	}
	var md versionMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return versionMetadata{}, fmt.Errorf("repo: decode version metadata: %w", err)
	}
	return md, nil
}

// resolve resolves ref to the temporal manifest hash it names, following
// the order spec.md §4.14 documents: an explicit version (itself tried
// first as an alias, then as a literal version id), then the dataset's
// current pointer.
func (r *Repo) resolve(ref Reference) (hashcodec.Hash, string, error) {
	dsRef := ref.datasetRef()
	if ref.Version == "" {
		hash, err := r.manifests.Current(dsRef)
		if err != nil {
			return hashcodec.Hash{}, "", fmt.Errorf("repo: resolve %s/%s: %w", ref.Source, ref.Dataset, err)
		}
		cur, err := r.manifests.GetTemporal(hash)
		if err != nil {
			return hashcodec.Hash{}, "", fmt.Errorf("repo: load current temporal manifest: %w", err)
		}
		return hash, cur.Version, nil
	}

	version := ref.Version
	if resolved, err := r.manifests.ResolveAlias(dsRef, ref.Version); err == nil {
		version = resolved
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return hashcodec.Hash{}, "", fmt.Errorf("repo: resolve alias %q: %w", ref.Version, err)
	}

	md, err := r.readVersionMetadata(ref.Source, ref.Dataset, version)
	if err != nil {
		return hashcodec.Hash{}, "", err
	}
	return md.TemporalHash, version, nil
}
