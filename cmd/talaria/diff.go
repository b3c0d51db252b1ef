package main

import (
	"fmt"
	"log/slog"

	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newDiffCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <ref-a> <ref-b>",
		Short: "Compare the chunk index of two resolved versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			refA, err := parseRef(args[0])
			if err != nil {
				return err
			}
			refB, err := parseRef(args[1])
			if err != nil {
				return err
			}

			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			diff, err := r.Diff(refA, refB)
			if err != nil {
				return err
			}
			fmt.Printf("added: %d removed: %d modified: %d sequences_affected: %d\n",
				len(diff.Added), len(diff.Removed), len(diff.Modified), diff.SequencesAffected)
			return nil
		},
	}
}

func newQueryAtCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "query-at <coordinate>",
		Short: "Look up the temporal manifest committed at or before a bi-temporal coordinate",
		Long:  "Accepts RFC3339, YYYY-MM-DD, or the keywords now/today/yesterday.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := repo.ParseCoordinate(args[0])
			if err != nil {
				return err
			}

			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			snap, err := r.QueryAt(coord)
			if err != nil {
				return err
			}
			fmt.Println(snap.Hash)
			return nil
		},
	}
}
