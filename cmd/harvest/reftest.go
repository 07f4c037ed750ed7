package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/runner"
)

type reftestFlags struct {
	timeout  time.Duration
	match    []string
	mismatch []string
}

func getCmdReftest(gs *globalState) *cobra.Command {
	var flags reftestFlags

	reftestCmd := &cobra.Command{
		Use:   "reftest URL",
		Short: "Compare the rendering of a page with reference pages",
		Long: `Compare the rendering of a page with reference pages.

  Each --match or --mismatch reference is an alternative: the test passes
  when any of them compares as required. The result is printed as one JSON
  line.`,
		Example: `  harvest reftest http://web-platform.test:8000/css/green.html \
    --match http://web-platform.test:8000/css/green-ref.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := driver.Launch(gs.cfg.Browser)
			if err != nil {
				return err
			}
			defer b.Close()

			return runReftest(cmd.Context(), gs, b, args[0], flags)
		},
	}
	reftestCmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "page timeout (default from HARVEST_TEST_TIMEOUT)")
	reftestCmd.Flags().StringArrayVar(&flags.match, "match", nil, "reference that must render the same")
	reftestCmd.Flags().StringArrayVar(&flags.mismatch, "mismatch", nil, "reference that must render differently")
	return reftestCmd
}

func runReftest(ctx context.Context, gs *globalState, src driver.Source, url string, flags reftestFlags) error {
	t := runner.RefTest{URL: url, Timeout: flags.timeout}
	for _, u := range flags.match {
		t.References = append(t.References, runner.Reference{URL: u, Relation: runner.RelationMatch, Timeout: flags.timeout})
	}
	for _, u := range flags.mismatch {
		t.References = append(t.References, runner.Reference{URL: u, Relation: runner.RelationMismatch, Timeout: flags.timeout})
	}

	res, err := runner.NewService(src, gs.cfg.Runner).RunRef(ctx, t)
	if err != nil {
		return err
	}
	return json.NewEncoder(gs.stdOut).Encode(line{URL: url, Result: res})
}
