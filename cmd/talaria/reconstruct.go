package main

import (
	"bufio"
	"log/slog"
	"os"

	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newReconstructCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "reconstruct <source/dataset:profile[@version]>",
		Short: "Reconstruct a reduced profile's sequences byte-exact and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}

			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			var idSet map[string]bool
			if len(ids) > 0 {
				idSet = make(map[string]bool, len(ids))
				for _, id := range ids {
					idSet[id] = true
				}
			}

			src, err := r.Reconstruct(ref, repo.ReconstructOptions{IDs: idSet})
			if err != nil {
				return err
			}

			sink := newTextSink(bufio.NewWriter(os.Stdout))
			for {
				seq, ok, err := src.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if err := sink.Write(seq); err != nil {
					return err
				}
			}
			return sink.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "restrict reconstruction to these sequence ids (repeatable)")
	return cmd
}
