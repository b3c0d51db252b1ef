package repo

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"talaria/internal/download"
	"talaria/internal/hashcodec"

	"github.com/go-co-op/gocron/v2"
)

// GCReport summarizes one GC pass.
type GCReport struct {
	LiveChunks   int
	OrphanBlobs  int
	RemovedBlobs int
	SkippedGrace int
	RemoveErrors []error
}

// GC removes blobs no on-disk version or reduction manifest references.
// If any download workspace that has not completed or failed was updated
// within grace, the whole pass is deferred and no blob is removed, since
// that download may have written blobs no manifest references yet.
func (r *Repo) GC(grace time.Duration) (GCReport, error) {
	live, err := r.liveChunkHashes()
	if err != nil {
		return GCReport{}, fmt.Errorf("repo: gc: %w", err)
	}

	activeDatasets, err := r.activeDownloadDatasets(grace)
	if err != nil {
		return GCReport{}, fmt.Errorf("repo: gc: %w", err)
	}

	all, err := r.blobs.All()
	if err != nil {
		return GCReport{}, fmt.Errorf("repo: gc: list blobs: %w", err)
	}

	report := GCReport{LiveChunks: len(live)}
	if len(activeDatasets) > 0 {
		// A download in flight for any dataset means newly chunked,
		// not-yet-committed blobs can exist anywhere in the store; there
		// is no per-blob timestamp to scope the skip more tightly.
		report.SkippedGrace = len(all) - len(live)
		r.logger.Info("gc deferred", "active_downloads", len(activeDatasets))
		return report, nil
	}

	for _, h := range all {
		if live[h] {
			continue
		}
		report.OrphanBlobs++
		if err := r.blobs.Remove(h); err != nil {
			report.RemoveErrors = append(report.RemoveErrors, fmt.Errorf("remove %s: %w", h, err))
			continue
		}
		r.chunkIndex.Remove(h)
		report.RemovedBlobs++
	}
	r.logger.Info("gc complete",
		"live_chunks", report.LiveChunks, "orphans", report.OrphanBlobs, "removed", report.RemovedBlobs)
	return report, nil
}

// liveChunkHashes walks every version and profile recorded on disk and
// collects the set of blob hashes still referenced by a temporal or
// reduction manifest.
func (r *Repo) liveChunkHashes() (map[hashcodec.Hash]bool, error) {
	live := make(map[hashcodec.Hash]bool)

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

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var md versionMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}

		tm, err := r.manifests.GetTemporal(md.TemporalHash)
		if err != nil {
			return fmt.Errorf("load temporal manifest for %s: %w", path, err)
		}
		for _, c := range tm.ChunkIndex {
			live[c.Hash] = true
		}

		profilesDir := filepath.Join(filepath.Dir(path), "profiles")
		entries, err := os.ReadDir(profilesDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("list %s: %w", profilesDir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".tal" {
				continue
			}
			red, err := decodeReductionFile(filepath.Join(profilesDir, e.Name()))
			if err != nil {
				return err
			}
			for _, h := range red.ReferenceChunks {
				live[h] = true
			}
			for _, h := range red.DeltaChunks {
				live[h] = true
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return live, nil
}

// activeDownloadDatasets returns the (source, dataset) pairs with a
// download workspace whose state.json was updated within grace.
func (r *Repo) activeDownloadDatasets(grace time.Duration) (map[string]bool, error) {
	downloadsRoot := r.dir.DownloadsRoot()
	entries, err := os.ReadDir(downloadsRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", downloadsRoot, err)
	}

	cutoff := time.Now().Add(-grace)
	active := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		statePath := filepath.Join(downloadsRoot, e.Name(), "state.json")
		data, err := os.ReadFile(statePath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", statePath, err)
		}
		var state download.StateFile
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode %s: %w", statePath, err)
		}
		if state.State == download.StateComplete || state.State == download.StateFailed {
			continue
		}
		if state.UpdatedAt.After(cutoff) {
			active[state.Source+"/"+state.Dataset] = true
		}
	}
	return active, nil
}

// scheduledGC runs GC periodically via a gocron scheduler.
type scheduledGC struct {
	scheduler gocron.Scheduler
}

func newScheduledGC(r *Repo, interval, grace time.Duration, logger *slog.Logger) (*scheduledGC, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gc scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			report, err := r.GC(grace)
			if err != nil {
				logger.Error("scheduled gc failed", "error", err)
				return
			}
			logger.Info("scheduled gc ran",
				"orphans", report.OrphanBlobs, "removed", report.RemovedBlobs, "deferred", report.SkippedGrace)
		}),
		gocron.WithName("repo-gc"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule gc job: %w", err)
	}

	s.Start()
	return &scheduledGC{scheduler: s}, nil
}

func (g *scheduledGC) stop() {
	_ = g.scheduler.Shutdown()
}
