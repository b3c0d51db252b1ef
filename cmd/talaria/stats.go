package main

import (
	"fmt"
	"log/slog"

	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newStatsCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print coarse repository-wide counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			stats, err := r.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("chunks: %d\n", stats.ChunkCount)
			return nil
		},
	}
}

func newTaxonomyCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Manage the repository's loaded NCBI taxonomy tree",
	}
	cmd.AddCommand(newTaxonomyLoadCmd(logger, rtcfg))
	return cmd
}

func newTaxonomyLoadCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "load <nodes.dmp> <names.dmp>",
		Short: "Load a taxonomy tree for taxon-aware chunking and selection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.LoadTaxonomy(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("taxonomy loaded")
			return nil
		},
	}
}
