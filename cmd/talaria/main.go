// Command talaria is a thin wrapper around internal/repo: every
// subcommand parses its flags, opens a repository, calls one façade
// method, and prints the result. It does no FASTA parsing, no alignment
// orchestration and no report rendering itself, those stay out-of-scope
// collaborators, per internal/repo's own package doc.
//
// Logging:
//   - Base logger is created here with a ComponentFilterHandler for
//     dynamic per-component log level control
//   - The logger is threaded into repo.Config, never set as the slog
//     default
package main

import (
	"fmt"
	"log/slog"
	"os"

	"talaria/internal/layout"
	"talaria/internal/logging"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func main() {
	rtcfg, err := runtimeconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "talaria:", err)
		os.Exit(1)
	}

	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, rtcfg.LogLevel)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "talaria",
		Short: "Content-addressed, bi-temporal sequence database",
	}
	rootCmd.PersistentFlags().String("home", rtcfg.Home, "repository root (default: TALARIA_HOME or platform config dir)")

	rootCmd.AddCommand(
		newInitCmd(logger, rtcfg),
		newDownloadCmd(logger, rtcfg),
		newResumeCmd(logger, rtcfg),
		newExportCmd(logger, rtcfg),
		newDiffCmd(logger, rtcfg),
		newQueryAtCmd(logger, rtcfg),
		newReduceCmd(logger, rtcfg),
		newReconstructCmd(logger, rtcfg),
		newVerifyCmd(logger, rtcfg),
		newGCCmd(logger, rtcfg),
		newStatsCmd(logger, rtcfg),
		newTaxonomyCmd(logger, rtcfg),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveHome returns the repository root: the --home flag if set,
// otherwise the resolved runtime config's Home, otherwise the platform
// default.
func resolveHome(cmd *cobra.Command, rtcfg runtimeconfig.Config) (string, error) {
	home, _ := cmd.Flags().GetString("home")
	if home != "" {
		return home, nil
	}
	if rtcfg.Home != "" {
		return rtcfg.Home, nil
	}
	dir, err := layout.Default()
	if err != nil {
		return "", fmt.Errorf("resolve repository root: %w", err)
	}
	return dir.Root(), nil
}
