package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/runner"
	"github.com/use-agent/harvest/webhook"
)

func getCmdServe(gs *globalState) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), gs)
		},
	}
	serveCmd.Flags().StringVar(&gs.cfg.Server.Host, "host", gs.cfg.Server.Host, "listen host")
	serveCmd.Flags().IntVar(&gs.cfg.Server.Port, "port", gs.cfg.Server.Port, "listen port")
	return serveCmd
}

func serve(ctx context.Context, gs *globalState) error {
	cfg := gs.cfg
	slog.Info("harvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxSessions", cfg.Browser.MaxSessions,
		"strategy", cfg.Runner.Strategy,
	)

	b, err := driver.Launch(cfg.Browser)
	if err != nil {
		return err
	}
	defer b.Close()

	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Close()

	wh := webhook.NewNotifier(cfg.Webhook.Secret)
	defer wh.Wait()

	svc := runner.NewService(b, cfg.Runner)
	router := api.NewRouter(ctx, svc, cfg, cc, wh, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// In-flight runs get 5 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	slog.Info("harvest stopped")
	return nil
}
