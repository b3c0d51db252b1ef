package main

import (
	"fmt"
	"log/slog"

	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newInitCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a repository at --home if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()
			home, _ := resolveHome(cmd, rtcfg)
			fmt.Println("initialized repository at", home)
			return nil
		},
	}
}
