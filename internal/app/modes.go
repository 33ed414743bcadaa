package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendwatch/internal/server"
	"github.com/alanyoungcy/lendwatch/internal/server/handler"
)

// shutdownTimeout bounds how long in-flight requests may take once the
// context is cancelled.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and the websocket stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHub(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// SyncMode runs the watchlist job only.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	if deps.Sync == nil {
		return fmt.Errorf("sync mode: no wallets configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Sync.Run(ctx)
	})
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API and the watchlist job side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHub(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	if deps.Sync != nil {
		g.Go(func() error {
			return deps.Sync.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "full mode: no wallets configured, sync job idle")
	}

	return ignoreCanceled(g.Wait())
}

func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Hub == nil {
		return
	}
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
}

// startHTTPServer adds the API server to the given errgroup. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Pingers, a.logger),
		Positions:  handler.NewPositionHandler(deps.Positions, a.logger),
		Strategies: handler.NewStrategyHandler(deps.Resolver, deps.Registry, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats context cancellation as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
