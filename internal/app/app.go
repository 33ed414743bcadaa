// Package app provides the top-level application lifecycle for lendwatch. It
// wires together all dependencies (source adapters, caches, stores, services
// and the API) and starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/lendwatch/internal/config"
	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "sync":
		return a.SyncMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Fetch runs a single read for q and writes the positions to w as indented
// JSON. It is the command-line lookup path and does not start any mode.
func (a *App) Fetch(ctx context.Context, q domain.Query, w io.Writer) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	res, err := deps.Positions.GetPositions(ctx, q)
	if err != nil {
		return fmt.Errorf("app: fetch: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Positions)
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
