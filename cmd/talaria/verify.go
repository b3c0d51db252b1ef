package main

import (
	"fmt"
	"log/slog"

	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"

	"github.com/spf13/cobra"
)

func newVerifyCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var skipBlobs, skipManifests, skipTaxonomy bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check referential integrity of the repository's blobs, manifests and taxonomy",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			report, err := r.Verify(repo.VerifyScope{
				SkipBlobs:     skipBlobs,
				SkipManifests: skipManifests,
				SkipTaxonomy:  skipTaxonomy,
			})
			if err != nil {
				return err
			}

			fmt.Printf("blob errors: %d, missing chunks: %d, merkle mismatches: %d, unknown taxa: %d\n",
				len(report.BlobErrors), len(report.MissingChunks), len(report.MerkleMismatches), len(report.UnknownTaxa))
			for _, e := range report.BlobErrors {
				fmt.Println(" ", e)
			}
			for _, e := range report.MissingChunks {
				fmt.Println(" ", e)
			}
			for _, e := range report.MerkleMismatches {
				fmt.Println(" ", e)
			}
			for _, e := range report.UnknownTaxa {
				fmt.Println(" ", e)
			}
			if !report.OK() {
				return fmt.Errorf("verify found violations")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipBlobs, "skip-blobs", false, "skip blob content verification")
	cmd.Flags().BoolVar(&skipManifests, "skip-manifests", false, "skip manifest chunk-reference checks")
	cmd.Flags().BoolVar(&skipTaxonomy, "skip-taxonomy", false, "skip taxon coverage checks")
	return cmd
}
