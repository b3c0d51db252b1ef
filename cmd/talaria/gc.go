package main

import (
	"fmt"
	"log/slog"
	"time"

	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newGCCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove blobs no version or reduction manifest references",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			report, err := r.GC(grace)
			if err != nil {
				return err
			}
			fmt.Printf("live chunks: %d, orphans: %d, removed: %d, deferred: %d\n",
				report.LiveChunks, report.OrphanBlobs, report.RemovedBlobs, report.SkippedGrace)
			for _, e := range report.RemoveErrors {
				fmt.Println(" ", e)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "skip GC entirely if any dataset has a download workspace updated within this window")
	return cmd
}
