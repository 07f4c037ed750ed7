// Command harvest runs testharness pages in a browser and reports their
// results, either once from the command line or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/use-agent/harvest/config"
)

type globalState struct {
	ctx    context.Context
	cfg    *config.Config
	stdOut io.Writer
	stdErr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gs := &globalState{
		ctx:    ctx,
		cfg:    config.Load(),
		stdOut: os.Stdout,
		stdErr: os.Stderr,
	}
	if err := newRootCmd(gs).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(gs.stdErr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(gs *globalState) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "harvest",
		Short:         "Run testharness pages and collect their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initLogger(gs.stdErr, gs.cfg.Log)
		},
	}
	rootCmd.PersistentFlags().AddFlagSet(rootFlagSet(gs.cfg))

	rootCmd.AddCommand(getCmdRun(gs), getCmdReftest(gs), getCmdServe(gs))
	return rootCmd
}

func rootFlagSet(cfg *config.Config) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	flags.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: json or text")

	flags.BoolVar(&cfg.Browser.Headless, "headless", cfg.Browser.Headless, "run the browser headless")
	flags.IntVar(&cfg.Browser.MaxSessions, "max-sessions", cfg.Browser.MaxSessions, "number of tabs used concurrently")
	flags.StringVar(&cfg.Browser.ControlURL, "control-url", cfg.Browser.ControlURL, "attach to a running browser instead of launching one")
	flags.StringVar(&cfg.Browser.BrowserBin, "browser-bin", cfg.Browser.BrowserBin, "browser binary to launch")
	flags.BoolVar(&cfg.Browser.Stealth, "stealth", cfg.Browser.Stealth, "mask automation fingerprints")

	flags.StringVar(&cfg.Runner.Strategy, "strategy", cfg.Runner.Strategy, "result strategy: callback, direct or dom")
	flags.Float64Var(&cfg.Runner.TimeoutMultiplier, "timeout-multiplier", cfg.Runner.TimeoutMultiplier, "scale every test timeout")
	flags.DurationVar(&cfg.Runner.ExtraTimeout, "extra-timeout", cfg.Runner.ExtraTimeout, "time allowed past the test timeout")
	return flags
}

// initLogger configures slog based on the LogConfig.
func initLogger(w io.Writer, cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
