// Package app provides the top-level lifecycle for the priceverse daemon.
// It wires dependencies, drives the supervisor, and blocks until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/priceverse/priceverse/internal/config"
)

// Version identifies the build in health reports.
const Version = "2.0.0"

// App is the root application object. It owns the configuration, logger, and
// cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the supervisor, and blocks until the
// context is cancelled, then drives the ordered shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting priceverse",
		slog.String("version", Version),
		slog.String("environment", a.cfg.Environment),
		slog.Any("exchanges", a.cfg.Exchanges.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("app: start workers: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	deps.Supervisor.Stop()
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
