package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"talaria/internal/aligner"
	"talaria/internal/repo"
	"talaria/internal/runtimeconfig"
	"talaria/internal/selector"

	"github.com/spf13/cobra"
)

// edgeRecord is the JSON shape of one --edges-file entry: a caller-supplied
// all-vs-all alignment row. Producing this table (by running a pairwise
// aligner over FASTA files, or otherwise) is this binary's caller's job,
// same as it is internal/repo's: building edges is explicitly the
// boundary the reduction engine draws around the out-of-scope FASTA
// parser and aligner orchestration.
type edgeRecord struct {
	Query           string  `json:"query"`
	Reference       string  `json:"reference"`
	PercentIdentity float64 `json:"percent_identity"`
	Coverage        float64 `json:"coverage"`
}

func loadEdgesFile(path string) ([]selector.Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edges file: %w", err)
	}
	var records []edgeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode edges file: %w", err)
	}
	edges := make([]selector.Edge, len(records))
	for i, rec := range records {
		edges[i] = selector.Edge{
			Query:           rec.Query,
			Reference:       rec.Reference,
			PercentIdentity: rec.PercentIdentity,
			Coverage:        rec.Coverage,
		}
	}
	return edges, nil
}

// edgesFromAligner runs an external pairwise aligner directly against the
// two FASTA paths the caller supplies, never parsing them itself: the
// binary's stdout is the only thing this process reads.
func edgesFromAligner(ctx context.Context, binary string, args []string, referencePath, queryPath string) ([]selector.Edge, error) {
	adapter := aligner.NewCommand(aligner.Command{Binary: binary, Args: args})
	rows, err := adapter.Align(ctx, referencePath, queryPath)
	if err != nil {
		return nil, fmt.Errorf("run aligner: %w", err)
	}
	edges := make([]selector.Edge, len(rows))
	for i, row := range rows {
		edges[i] = selector.Edge{
			Query:           row.Query,
			Reference:       row.Reference,
			PercentIdentity: row.PercentIdentity,
			Coverage:        row.Coverage,
		}
	}
	return edges, nil
}

func newReduceCmd(logger *slog.Logger, rtcfg runtimeconfig.Config) *cobra.Command {
	var profile, edgesFile, alignerBin, referencePath, queryPath string
	var alignerArgs []string
	cmd := &cobra.Command{
		Use:   "reduce <source/dataset[@version]>",
		Short: "Reduce a dataset under a named profile using a pre-computed alignment table",
		Long: "The alignment table is supplied either as a JSON --edges-file or by " +
			"running an external aligner directly against --reference-fasta and " +
			"--query-fasta paths via --aligner-bin; this command never parses FASTA itself.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			if profile == "" {
				return fmt.Errorf("--profile is required")
			}

			var edges []selector.Edge
			switch {
			case edgesFile != "":
				edges, err = loadEdgesFile(edgesFile)
			case alignerBin != "":
				if referencePath == "" || queryPath == "" {
					return fmt.Errorf("--aligner-bin requires --reference-fasta and --query-fasta")
				}
				edges, err = edgesFromAligner(cmd.Context(), alignerBin, alignerArgs, referencePath, queryPath)
			default:
				return fmt.Errorf("one of --edges-file or --aligner-bin is required")
			}
			if err != nil {
				return err
			}

			r, err := openRepo(cmd, logger, rtcfg, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			result, err := r.Reduce(ref, repo.ReduceOptions{Profile: profile, Edges: edges})
			if err != nil {
				return err
			}
			fmt.Printf("profile %q: %d references, %d delta chunks, ratio %.3f (%s)\n",
				profile, len(result.Reduction.ReferenceChunks), len(result.Reduction.DeltaChunks),
				result.Reduction.ReductionRatio, result.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "profile name to write")
	cmd.Flags().StringVar(&edgesFile, "edges-file", "", "path to a JSON array of pre-computed alignment edges")
	cmd.Flags().StringVar(&alignerBin, "aligner-bin", "", "external aligner binary to invoke directly")
	cmd.Flags().StringSliceVar(&alignerArgs, "aligner-arg", nil, "argument to pass the aligner binary (repeatable, supports {reference}/{query})")
	cmd.Flags().StringVar(&referencePath, "reference-fasta", "", "reference FASTA path passed to --aligner-bin")
	cmd.Flags().StringVar(&queryPath, "query-fasta", "", "query FASTA path passed to --aligner-bin")
	return cmd
}
