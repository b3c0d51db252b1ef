package repo

import (
	"context"
	"fmt"
	"time"

	"talaria/internal/download"
	"talaria/internal/hashcodec"
	"talaria/internal/manifest"
	"talaria/internal/merkle"

	"github.com/google/uuid"
)

// DownloadOptions configures one Download call.
type DownloadOptions struct {
	// UpstreamVersion is the provenance string recorded alongside the
	// generated local version id (e.g. an upstream release tag). Purely
	// informational.
	UpstreamVersion string
}

// DownloadResult is the outcome of a Download call.
type DownloadResult struct {
	WorkspaceID  string
	Version      string
	TemporalHash hashcodec.Hash
	UpToDate     bool
	State        download.State
}

// Download runs an initial download or incremental update check for
// (source, dataset) against url, composing the download state machine
// with chunk manifest persistence and a temporal commit once the
// artifact has been fully chunked.
func (r *Repo) Download(ctx context.Context, source, dataset, url string, opts DownloadOptions) (DownloadResult, error) {
	dsRef := manifest.DatasetRef{Source: source, Dataset: dataset}

	knownTotal, err := r.currentTotalBytes(dsRef)
	if err != nil {
		return DownloadResult{}, err
	}

	upToDate, checked := r.checkManifestServer(ctx, dsRef)
	if !checked {
		var err error
		upToDate, _, err = r.downloader.CheckForUpdate(ctx, url, knownTotal)
		if err != nil {
			return DownloadResult{}, fmt.Errorf("repo: check for update: %w", err)
		}
	}
	if upToDate && knownTotal > 0 {
		return DownloadResult{UpToDate: true}, nil
	}

	var chunks []manifest.Chunk
	downloader := r.downloaderCollecting(&chunks)

	workspaceID := uuid.Must(uuid.NewV7()).String()
	state, err := downloader.StartDownload(ctx, workspaceID, source, dataset, url)
	if err != nil {
		return DownloadResult{WorkspaceID: workspaceID}, fmt.Errorf("repo: download: %w", err)
	}
	if state.State != download.StateComplete {
		return DownloadResult{WorkspaceID: workspaceID, State: state.State},
			fmt.Errorf("repo: download ended in state %s: %s", state.State, state.Error)
	}

	version, hash, err := r.commitDownload(dsRef, opts, state, chunks)
	if err != nil {
		return DownloadResult{WorkspaceID: workspaceID, State: state.State}, err
	}

	r.logger.Info("download committed",
		"source", source, "dataset", dataset, "version", version, "chunks", len(chunks))
	return DownloadResult{
		WorkspaceID:  workspaceID,
		Version:      version,
		TemporalHash: hash,
		State:        state.State,
	}, nil
}

// Resume continues a previously started download workspace, committing
// its result the same way Download does if it reaches Complete.
func (r *Repo) Resume(ctx context.Context, source, dataset, workspaceID string, opts DownloadOptions) (DownloadResult, error) {
	dsRef := manifest.DatasetRef{Source: source, Dataset: dataset}

	var chunks []manifest.Chunk
	downloader := r.downloaderCollecting(&chunks)

	state, err := downloader.Resume(ctx, workspaceID)
	if err != nil {
		return DownloadResult{WorkspaceID: workspaceID}, fmt.Errorf("repo: resume download: %w", err)
	}
	if state.State != download.StateComplete {
		return DownloadResult{WorkspaceID: workspaceID, State: state.State},
			fmt.Errorf("repo: resumed download ended in state %s: %s", state.State, state.Error)
	}

	version, hash, err := r.commitDownload(dsRef, opts, state, chunks)
	if err != nil {
		return DownloadResult{WorkspaceID: workspaceID, State: state.State}, err
	}
	return DownloadResult{WorkspaceID: workspaceID, Version: version, TemporalHash: hash, State: state.State}, nil
}

func (r *Repo) commitDownload(dsRef manifest.DatasetRef, opts DownloadOptions, state download.StateFile, chunks []manifest.Chunk) (string, hashcodec.Hash, error) {
	chunkHashes := make([]hashcodec.Hash, len(chunks))
	for i, c := range chunks {
		chunkHashes[i] = c.Hash
	}

	version := newVersionID()
	now := time.Now().UTC()
	temporalManifest := manifest.Temporal{
		Version:         version,
		UpstreamVersion: opts.UpstreamVersion,
		ChunkIndex:      chunks,
		SequenceRoot:    merkle.Root(chunkHashes),
		TaxonomyRoot:    r.taxonomyRoot,
		CreatedAt:       now,
	}

	hash, err := r.manifests.PutTemporal(temporalManifest)
	if err != nil {
		return "", hashcodec.Hash{}, fmt.Errorf("repo: persist temporal manifest: %w", err)
	}

	coord := manifest.Coordinate{SequenceTime: now, TaxonomyTime: now}
	if err := r.temporal.Commit(coord, hash); err != nil {
		return "", hashcodec.Hash{}, fmt.Errorf("repo: commit temporal coordinate: %w", err)
	}
	if err := r.manifests.SetCurrent(dsRef, hash); err != nil {
		return "", hashcodec.Hash{}, fmt.Errorf("repo: update current pointer: %w", err)
	}

	if err := r.writeVersionMetadata(dsRef.Source, dsRef.Dataset, version, versionMetadata{
		UpstreamVersion:   opts.UpstreamVersion,
		ChecksumAlgorithm: state.ChecksumAlgorithm,
		Checksum:          state.ExpectedChecksum,
		TotalBytes:        state.TotalBytes,
		TemporalHash:      hash,
		Coordinate:        coord,
		CreatedAt:         now,
	}); err != nil {
		return "", hashcodec.Hash{}, err
	}

	return version, hash, nil
}

// currentTotalBytes looks up the byte length CheckForUpdate should
// compare against: the TotalBytes recorded for the dataset's current
// version, or zero if the dataset has never been downloaded.
func (r *Repo) currentTotalBytes(dsRef manifest.DatasetRef) (uint64, error) {
	curHash, err := r.manifests.Current(dsRef)
	if err != nil {
		return 0, nil
	}
	cur, err := r.manifests.GetTemporal(curHash)
	if err != nil {
		return 0, fmt.Errorf("repo: load current temporal manifest: %w", err)
	}
	md, err := r.readVersionMetadata(dsRef.Source, dsRef.Dataset, cur.Version)
	if err != nil {
		return 0, nil
	}
	return md.TotalBytes, nil
}

func (r *Repo) downloaderCollecting(chunks *[]manifest.Chunk) *download.Downloader {
	cfg := r.newDownloaderConfig()
	userOnChunk := cfg.ChunkerConfig.OnChunk
	cfg.ChunkerConfig.OnChunk = func(c manifest.Chunk) {
		*chunks = append(*chunks, c)
		if _, err := r.manifests.PutChunk(c); err != nil {
			r.logger.Error("persist chunk manifest", "hash", c.Hash, "error", err)
		}
		r.chunkIndex.Put(c)
		if userOnChunk != nil {
			userOnChunk(c)
		}
	}
	return download.New(cfg)
}

func newVersionID() string {
	return time.Now().UTC().Format("20060102_150405")
}
