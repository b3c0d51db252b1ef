package main

import (
	"fmt"
	"log/slog"
	"time"

	"talaria/internal/chunker"
	"talaria/internal/reduction"
	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"
	"talaria/internal/selector"

	"github.com/spf13/cobra"
)

// openRepo builds a repo.Config from the resolved runtime knobs and opens
// the repository at --home. gcInterval of zero leaves periodic GC
// disabled; only the long-running server-ish subcommands need it, so
// individual commands opt in explicitly.
func openRepo(cmd *cobra.Command, logger *slog.Logger, rtcfg runtimeconfig.Config, gcInterval time.Duration) (*repo.Repo, error) {
	home, err := resolveHome(cmd, rtcfg)
	if err != nil {
		return nil, err
	}

	cfg := repo.Config{
		Logger:           logger,
		Chunker:          chunker.Config{TargetChunkSize: 4 << 20},
		ReferenceChunker: chunker.Config{TargetChunkSize: 4 << 20},
		Selector:         selector.Config{Algorithm: selector.AlgorithmSinglePass},
		DeltaChunk:       reduction.DeltaChunkConfig{},
		SourceFactory:    wholeFileSourceFactory,

		RateLimitKBs:      rtcfg.DownloadRateLimitKBs,
		PreserveOnFailure: rtcfg.PreserveOnFailure,
		PreserveAlways:    rtcfg.PreserveAlways,
		Threads:           rtcfg.Threads,
		ManifestServer:    rtcfg.ManifestServer,

		GCInterval: gcInterval,
	}

	r, err := repo.Open(home, cfg)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", home, err)
	}
	return r, nil
}

func parseRef(s string) (repo.Reference, error) {
	ref, err := repo.ParseReference(s)
	if err != nil {
		return repo.Reference{}, err
	}
	return ref, nil
}
