package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
)

// serveCmd runs the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the costgate HTTP API",
	Long: `Start the costgate HTTP API and the maintenance scheduler.

Examples:
  # Start with the default config file
  costgate serve

  # Listen on a different port
  SERVER_HTTP_PORT=8080 costgate serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg)
}

// run serves until ctx is cancelled, then shuts down within
// cfg.Server.ShutdownTimeout.
func run(ctx context.Context, cfg *config.Config) error {
	b, err := newBase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := b.Close(shutdownCtx); err != nil {
			b.logger.Warn(shutdownCtx, "shutdown finished with errors", zap.Error(err))
		}
	}()

	a, err := buildApp(b)
	if err != nil {
		return err
	}
	defer a.closeEvents()

	b.logger.Info(ctx, "costgate starting",
		zap.String("version", version),
		zap.String("git_commit", gitCommit),
		zap.String("search_provider", cfg.Search.Provider),
		zap.String("cheap_model", cfg.LLM.CheapModel),
		zap.String("strong_model", cfg.LLM.StrongModel),
		zap.Bool("maintenance", a.scheduler != nil),
		zap.Bool("events", a.events != nil),
	)

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		defer a.scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	b.logger.Info(context.Background(), "received shutdown signal",
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
