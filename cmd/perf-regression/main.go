// Command perf-regression fails when tracked benchmarks regress between a
// baseline and a candidate `go test -bench -count N` output.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/securyflex/accountguard/internal/perfgate"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		baselinePath  string
		candidatePath string
		limit         float64
	)

	cmd := &cobra.Command{
		Use:           "perf-regression",
		Short:         "Compare benchmark medians against a baseline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if baselinePath == "" || candidatePath == "" {
				return errors.New("--baseline and --candidate are required")
			}
			if limit < 0 {
				return errors.New("--threshold must be >= 0")
			}

			baseline, err := parseFile(baselinePath)
			if err != nil {
				return fmt.Errorf("parse baseline: %w", err)
			}
			candidate, err := parseFile(candidatePath)
			if err != nil {
				return fmt.Errorf("parse candidate: %w", err)
			}

			res := perfgate.Compare(baseline, candidate, perfgate.DefaultTargets, limit)
			res.Write(cmd.OutOrStdout())
			if !res.OK() {
				for _, f := range res.Failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", f)
				}
				return errors.New("performance regression threshold exceeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	cmd.Flags().StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	cmd.Flags().Float64Var(&limit, "threshold", perfgate.DefaultLimit, "maximum allowed regression ratio (0.30 = +30%)")
	return cmd
}

func parseFile(path string) (perfgate.Samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return perfgate.Parse(f, perfgate.DefaultTargets)
}
