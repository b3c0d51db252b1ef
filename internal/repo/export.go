package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/reconstruct"
	"talaria/internal/sequence"
	"talaria/internal/temporal"

	"github.com/vmihailenco/msgpack/v5"
)

// ExportOptions narrows an Export call to a subset of sequences.
type ExportOptions struct {
	IDs map[string]bool
}

// Export streams the sequences named by ref into sink. A reference with
// a profile streams the reduction's reconstructed sequences; one without
// streams the full dataset directly from its chunks.
func (r *Repo) Export(ref Reference, opts ExportOptions, sink sequence.Sink) error {
	hash, version, err := r.resolve(ref)
	if err != nil {
		return err
	}

	var src sequence.Source
	if ref.Profile != "" {
		src, err = r.reconstructProfile(ref.Source, ref.Dataset, version, ref.Profile, opts.IDs)
	} else {
		src, err = r.sequenceSourceFromTemporal(hash, opts.IDs)
	}
	if err != nil {
		return err
	}

	for {
		seq, ok, err := src.Next()
		if err != nil {
			return fmt.Errorf("repo: export: %w", err)
		}
		if !ok {
			return nil
		}
		if err := sink.Write(seq); err != nil {
			return fmt.Errorf("repo: export: write %s: %w", seq.ID, err)
		}
	}
}

func (r *Repo) sequenceSourceFromTemporal(hash hashcodec.Hash, ids map[string]bool) (sequence.Source, error) {
	tm, err := r.manifests.GetTemporal(hash)
	if err != nil {
		return nil, fmt.Errorf("repo: load temporal manifest: %w", err)
	}
	var all []sequence.Sequence
	for _, c := range tm.ChunkIndex {
		r.chunkIndex.ByHash(c.Hash) // records the access for hot-chunk tracking
		data, err := r.blobs.Get(c.Hash)
		if err != nil {
			return nil, fmt.Errorf("repo: load chunk %s: %w", c.Hash, err)
		}
		seqs, _, err := hashcodec.DecodeChunkBlob(data)
		if err != nil {
			return nil, fmt.Errorf("repo: decode chunk %s: %w", c.Hash, err)
		}
		for _, s := range seqs {
			if ids == nil || ids[s.ID] {
				all = append(all, s)
			}
		}
	}
	return sequence.NewSliceSource(all), nil
}

func (r *Repo) reconstructProfile(source, dataset, version, profile string, ids map[string]bool) (sequence.Source, error) {
	red, err := r.readReduction(source, dataset, version, profile)
	if err != nil {
		return nil, err
	}
	rec := reconstruct.New(r.blobs, r.cfg.Logger)
	return rec.Reconstruct(red, reconstruct.Options{IDs: ids})
}

func (r *Repo) readReduction(source, dataset, version, profile string) (manifest.Reduction, error) {
	return decodeReductionFile(r.dir.ProfileManifestPath(source, dataset, version, profile))
}

// decodeReductionFile reads and decodes a .tal reduction manifest file,
// written by internal/reduction in the same TAL\x01 + msgpack framing
// used here.
func decodeReductionFile(path string) (manifest.Reduction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Reduction{}, fmt.Errorf("repo: read reduction manifest %s: %w", path, err)
	}
	if len(data) < 4 || string(data[:4]) != "TAL\x01" {
		return manifest.Reduction{}, fmt.Errorf("repo: %s: bad magic", path)
	}
	var red manifest.Reduction
	if err := msgpack.Unmarshal(data[4:], &red); err != nil {
		return manifest.Reduction{}, fmt.Errorf("repo: decode reduction manifest %s: %w", path, err)
	}
	return red, nil
}

// Diff compares the temporal manifests ref_a and ref_b resolve to.
func (r *Repo) Diff(refA, refB Reference) (temporal.DiffResult, error) {
	coordA, err := r.coordinateOf(refA)
	if err != nil {
		return temporal.DiffResult{}, err
	}
	coordB, err := r.coordinateOf(refB)
	if err != nil {
		return temporal.DiffResult{}, err
	}
	return temporal.Diff(r.temporal, r.manifests, coordA, coordB)
}

func (r *Repo) coordinateOf(ref Reference) (manifest.Coordinate, error) {
	_, version, err := r.resolve(ref)
	if err != nil {
		return manifest.Coordinate{}, err
	}
	if version == "" {
		return manifest.Coordinate{}, fmt.Errorf("repo: %s/%s: no committed version", ref.Source, ref.Dataset)
	}
	md, err := r.readVersionMetadata(ref.Source, ref.Dataset, version)
	if err != nil {
		return manifest.Coordinate{}, err
	}
	return md.Coordinate, nil
}

// QueryAt returns the snapshot committed at or before coord.
func (r *Repo) QueryAt(coord manifest.Coordinate) (temporal.Snapshot, error) {
	snap, err := r.temporal.QueryAt(coord)
	if errors.Is(err, temporal.ErrNoSnapshot) {
		return temporal.Snapshot{}, err
	}
	if err != nil {
		return temporal.Snapshot{}, fmt.Errorf("repo: query at: %w", err)
	}
	return snap, nil
}

// ErrInvalidCoordinate is returned by ParseCoordinate for unrecognized
// wire syntax.
var ErrInvalidCoordinate = errors.New("repo: invalid temporal coordinate")

// ParseCoordinate parses the wire coordinate syntax spec.md §6 defines:
// ISO-8601 with a Z suffix, YYYY-MM-DD (midnight UTC), or the keywords
// now/today/yesterday. The same instant is used for both the sequence-
// time and taxonomy-time components.
func ParseCoordinate(s string) (manifest.Coordinate, error) {
	t, err := parseTimeKeyword(s)
	if err != nil {
		return manifest.Coordinate{}, err
	}
	return manifest.Coordinate{SequenceTime: t, TaxonomyTime: t}, nil
}

func parseTimeKeyword(s string) (time.Time, error) {
	switch strings.ToLower(s) {
	case "now":
		return time.Now().UTC(), nil
	case "today":
		return midnightUTC(time.Now().UTC()), nil
	case "yesterday":
		return midnightUTC(time.Now().UTC().AddDate(0, 0, -1)), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
