package main

import (
	"bufio"
	"log/slog"
	"os"

	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newExportCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "export <source/dataset[:profile][@version]>",
		Short: "Print a tab-separated id/length/taxon/description summary of a dataset",
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

			sink := newTextSink(bufio.NewWriter(os.Stdout))
			if err := r.Export(ref, repo.ExportOptions{IDs: idSet}, sink); err != nil {
				return err
			}
			return sink.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "restrict export to these sequence ids (repeatable)")
	return cmd
}
