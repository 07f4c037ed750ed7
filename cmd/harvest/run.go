package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/runner"
)

type runFlags struct {
	timeout time.Duration
}

func getCmdRun(gs *globalState) *cobra.Command {
	var flags runFlags

	runCmd := &cobra.Command{
		Use:   "run URL...",
		Short: "Run test pages and print their results",
		Long: `Run test pages and print their results.

  Each result is printed as one JSON line. Tests that do not report before
  their deadline are printed with status TIMEOUT.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := runner.ParseStrategy(gs.cfg.Runner.Strategy)
			if err != nil {
				return err
			}

			b, err := driver.Launch(gs.cfg.Browser)
			if err != nil {
				return err
			}
			defer b.Close()

			return runTests(cmd.Context(), gs, b, args, strategy, flags.timeout)
		},
	}
	runCmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "test timeout (default from HARVEST_TEST_TIMEOUT)")
	return runCmd
}

type line struct {
	URL    string             `json:"url"`
	Result *models.TestResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// runTests runs urls on src and writes one JSON line per test. It fails if
// any test could not produce a result.
func runTests(ctx context.Context, gs *globalState, src driver.Source, urls []string, strategy runner.Strategy, timeout time.Duration) error {
	tests := make([]runner.Test, len(urls))
	for i, u := range urls {
		tests[i] = runner.Test{URL: u, Timeout: timeout}
	}

	outcomes := runner.NewService(src, gs.cfg.Runner).RunAll(ctx, tests, strategy)
	return writeOutcomes(gs.stdOut, outcomes)
}

func writeOutcomes(w io.Writer, outcomes []runner.Outcome) error {
	enc := json.NewEncoder(w)
	failed := 0
	for _, o := range outcomes {
		l := line{URL: o.Test.URL, Result: o.Result}
		if o.Err != nil {
			l.Error = o.Err.Error()
			failed++
		}
		if err := enc.Encode(l); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tests produced no result", failed, len(outcomes))
	}
	return nil
}
