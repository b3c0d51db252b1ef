// Package layout owns the on-disk repository layout.
//
// Layout is a pure path-computation type: it never creates or deletes
// files itself (callers do that), it only knows where things go.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a talaria repository root.
//
//	<root>/
//	  manifest.json                   current temporal manifest pointer
//	  chunks/                         out-of-line large blobs
//	  sequences/rocksdb/              ordered key-value store (blobs, keys)
//	  versions/<source>/<dataset>/<version>/
//	      metadata.json
//	      profiles/<profile>.tal
//	      profiles/<profile>.json
//	  taxonomy/current/tree/          nodes.dmp, names.dmp
//	  taxonomy/current/mappings/      *.accession2taxid[.gz]
//	  downloads/<workspace_id>/
//	      state.json
//	      lock
//	      <file>.tmp
type Dir struct {
	root string
}

// New creates a Dir rooted at an explicit path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default resolves the repository root from TALARIA_HOME, falling back to
// a talaria directory under the platform user config directory
// (os.UserConfigDir).
func Default() (Dir, error) {
	if v := os.Getenv("TALARIA_HOME"); v != "" {
		return Dir{root: v}, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "talaria")}, nil
}

// Root returns the repository root path.
func (d Dir) Root() string { return d.root }

// ManifestPointerPath returns the path to the current temporal manifest pointer.
func (d Dir) ManifestPointerPath() string { return filepath.Join(d.root, "manifest.json") }

// ChunksDir returns the out-of-line large-blob directory.
func (d Dir) ChunksDir() string { return filepath.Join(d.root, "chunks") }

// KVDir returns the embedded ordered key-value store directory.
func (d Dir) KVDir() string { return filepath.Join(d.root, "sequences", "rocksdb") }

// BlobDBPath returns the blob store's embedded key-value database file.
func (d Dir) BlobDBPath() string { return filepath.Join(d.KVDir(), "blobs.db") }

// ManifestDBPath returns the manifest store's embedded key-value database file.
func (d Dir) ManifestDBPath() string { return filepath.Join(d.KVDir(), "manifests.db") }

// TemporalDBPath returns the temporal index's embedded key-value database file.
func (d Dir) TemporalDBPath() string { return filepath.Join(d.KVDir(), "temporal.db") }

// VersionsRoot returns the root of the versions/ tree, walked by garbage
// collection and referential-integrity checks to enumerate every version
// on disk.
func (d Dir) VersionsRoot() string { return filepath.Join(d.root, "versions") }

// VersionDir returns the directory for one (source, dataset, version).
func (d Dir) VersionDir(source, dataset, version string) string {
	return filepath.Join(d.root, "versions", source, dataset, version)
}

// MetadataPath returns metadata.json for one version.
func (d Dir) MetadataPath(source, dataset, version string) string {
	return filepath.Join(d.VersionDir(source, dataset, version), "metadata.json")
}

// ProfileManifestPath returns the binary .tal reduction manifest path.
func (d Dir) ProfileManifestPath(source, dataset, version, profile string) string {
	return filepath.Join(d.VersionDir(source, dataset, version), "profiles", profile+".tal")
}

// ProfileManifestJSONPath returns the advisory JSON sibling path.
func (d Dir) ProfileManifestJSONPath(source, dataset, version, profile string) string {
	return filepath.Join(d.VersionDir(source, dataset, version), "profiles", profile+".json")
}

// AliasesPath returns aliases.json for one (source, dataset).
func (d Dir) AliasesPath(source, dataset string) string {
	return filepath.Join(d.root, "versions", source, dataset, "aliases.json")
}

// TaxonomyTreeDir returns the directory holding nodes.dmp / names.dmp.
func (d Dir) TaxonomyTreeDir() string { return filepath.Join(d.root, "taxonomy", "current", "tree") }

// TaxonomyMappingsDir returns the directory holding accession2taxid files.
func (d Dir) TaxonomyMappingsDir() string {
	return filepath.Join(d.root, "taxonomy", "current", "mappings")
}

// DownloadsRoot returns the root of the downloads/ tree, walked by
// garbage collection to find workspaces that may still be in flight.
func (d Dir) DownloadsRoot() string { return filepath.Join(d.root, "downloads") }

// WorkspaceDir returns the download workspace directory for one workspace ID.
func (d Dir) WorkspaceDir(workspaceID string) string {
	return filepath.Join(d.DownloadsRoot(), workspaceID)
}

// EnsureExists creates the repository root directory (and parents) if absent.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create repository root %s: %w", d.root, err)
	}
	return nil
}
