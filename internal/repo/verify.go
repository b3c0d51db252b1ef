package repo

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"talaria/internal/blob"
	"talaria/internal/hashcodec"
	"talaria/internal/merkle"
	"talaria/internal/sequence"
)

// VerifyScope narrows a Verify call to a subset of its checks. The zero
// value runs every check.
type VerifyScope struct {
	SkipBlobs     bool
	SkipManifests bool
	SkipTaxonomy  bool
}

// VerifyReport collects every integrity violation a Verify pass found.
type VerifyReport struct {
	BlobErrors       []blob.VerificationError
	MissingChunks    []ChunkReferenceError
	MerkleMismatches []MerkleMismatch
	UnknownTaxa      []TaxonError
}

// OK reports whether the verification pass found no violations.
func (r VerifyReport) OK() bool {
	return len(r.BlobErrors) == 0 && len(r.MissingChunks) == 0 &&
		len(r.MerkleMismatches) == 0 && len(r.UnknownTaxa) == 0
}

// ChunkReferenceError names a chunk hash a manifest points to that the
// blob store does not have.
type ChunkReferenceError struct {
	ManifestPath string
	Hash         hashcodec.Hash
}

func (e ChunkReferenceError) Error() string {
	return fmt.Sprintf("%s: references missing chunk %s", e.ManifestPath, e.Hash)
}

// MerkleMismatch names a reduction manifest whose declared root
// disagrees with the root recomputed from its own chunk lists.
type MerkleMismatch struct {
	ManifestPath string
	Declared     hashcodec.Hash
	Recomputed   hashcodec.Hash
}

func (e MerkleMismatch) Error() string {
	return fmt.Sprintf("%s: merkle root mismatch: declared %s, recomputed %s", e.ManifestPath, e.Declared, e.Recomputed)
}

// TaxonError names a chunk that claims a taxon id the loaded taxonomy
// tree doesn't recognize.
type TaxonError struct {
	ChunkHash hashcodec.Hash
	Taxon     uint32
}

func (e TaxonError) Error() string {
	return fmt.Sprintf("chunk %s: unknown taxon %d", e.ChunkHash, e.Taxon)
}

// Verify walks every blob and on-disk manifest, checking the integrity
// invariants Download and Reduce are expected to maintain: every stored
// blob rehashes to its key, every manifest's chunk references resolve,
// and every reduction manifest's declared Merkle root matches what its
// own chunk lists hash to.
func (r *Repo) Verify(scope VerifyScope) (VerifyReport, error) {
	var report VerifyReport

	if !scope.SkipBlobs {
		errs, err := r.blobs.VerifyAll()
		if err != nil {
			return report, fmt.Errorf("repo: verify: %w", err)
		}
		report.BlobErrors = errs
	}

	if scope.SkipManifests && scope.SkipTaxonomy {
		return report, nil
	}

	root := r.dir.VersionsRoot()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != "metadata.json" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
		var md versionMetadata
		if unmarshalErr := json.Unmarshal(data, &md); unmarshalErr != nil {
			return fmt.Errorf("decode %s: %w", path, unmarshalErr)
		}

		tm, getErr := r.manifests.GetTemporal(md.TemporalHash)
		if getErr != nil {
			return fmt.Errorf("load temporal manifest for %s: %w", path, getErr)
		}

		if !scope.SkipManifests {
			for _, c := range tm.ChunkIndex {
				if has, hasErr := r.blobs.Has(c.Hash); hasErr != nil {
					return fmt.Errorf("check chunk %s: %w", c.Hash, hasErr)
				} else if !has {
					report.MissingChunks = append(report.MissingChunks, ChunkReferenceError{ManifestPath: path, Hash: c.Hash})
				}
			}
		}

		if !scope.SkipTaxonomy && r.tree != nil {
			for _, c := range tm.ChunkIndex {
				r.checkTaxa(c.Hash, c.TaxonIDs, &report)
			}
		}

		profilesDir := filepath.Join(filepath.Dir(path), "profiles")
		entries, readDirErr := os.ReadDir(profilesDir)
		if readDirErr != nil {
			if os.IsNotExist(readDirErr) {
				return nil
			}
			return fmt.Errorf("list %s: %w", profilesDir, readDirErr)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".tal" {
				continue
			}
			talPath := filepath.Join(profilesDir, e.Name())
			red, decodeErr := decodeReductionFile(talPath)
			if decodeErr != nil {
				return decodeErr
			}

			if !scope.SkipManifests {
				leaves := make([]hashcodec.Hash, 0, len(red.ReferenceChunks)+len(red.DeltaChunks))
				leaves = append(leaves, red.ReferenceChunks...)
				leaves = append(leaves, red.DeltaChunks...)
				if got := merkle.Root(leaves); got != red.MerkleRoot {
					report.MerkleMismatches = append(report.MerkleMismatches, MerkleMismatch{
						ManifestPath: talPath, Declared: red.MerkleRoot, Recomputed: got,
					})
				}
				for _, h := range leaves {
					if has, hasErr := r.blobs.Has(h); hasErr != nil {
						return fmt.Errorf("check chunk %s: %w", h, hasErr)
					} else if !has {
						report.MissingChunks = append(report.MissingChunks, ChunkReferenceError{ManifestPath: talPath, Hash: h})
					}
				}
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("repo: verify: %w", err)
	}
	return report, nil
}

func (r *Repo) checkTaxa(chunkHash hashcodec.Hash, taxa []uint32, report *VerifyReport) {
	for _, t := range taxa {
		if _, err := r.tree.Name(sequence.TaxonID(t)); err != nil {
			report.UnknownTaxa = append(report.UnknownTaxa, TaxonError{ChunkHash: chunkHash, Taxon: t})
		}
	}
}
