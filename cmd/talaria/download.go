package main

import (
	"context"
	"fmt"
	"log/slog"

	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newDownloadCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var upstreamVersion string
	cmd := &cobra.Command{
		Use:   "download <source> <dataset> <url>",
		Short: "Download or update a dataset from url",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := r.Download(context.Background(), args[0], args[1], args[2], repo.DownloadOptions{
				UpstreamVersion: upstreamVersion,
			})
			if err != nil {
				return err
			}
			if res.UpToDate {
				fmt.Println("up to date")
				return nil
			}
			fmt.Printf("version %s committed (%s)\n", res.Version, res.TemporalHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&upstreamVersion, "upstream-version", "", "upstream provenance string to record")
	return cmd
}

func newResumeCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var upstreamVersion string
	cmd := &cobra.Command{
		Use:   "resume <source> <dataset> <workspace-id>",
		Short: "Resume a previously started download workspace",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := r.Resume(context.Background(), args[0], args[1], args[2], repo.DownloadOptions{
				UpstreamVersion: upstreamVersion,
			})
			if err != nil {
				return err
			}
			fmt.Printf("version %s committed (%s)\n", res.Version, res.TemporalHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&upstreamVersion, "upstream-version", "", "upstream provenance string to record")
	return cmd
}
