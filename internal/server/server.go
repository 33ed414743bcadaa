// Package server exposes the position API over HTTP and websocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/server/handler"
	"github.com/alanyoungcy/lendwatch/internal/server/middleware"
	"github.com/alanyoungcy/lendwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers registered by the server.
type Handlers struct {
	Health     *handler.HealthHandler
	Positions  *handler.PositionHandler
	Strategies *handler.StrategyHandler
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain. hub and
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, hub, limiter, logger),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler returns the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)

	mux.HandleFunc("GET /api/positions", handlers.Positions.GetPositions)
	mux.HandleFunc("POST /api/positions/refresh", handlers.Positions.RefreshPositions)
	mux.HandleFunc("GET /api/positions/history", handlers.Positions.History)
	mux.HandleFunc("GET /api/positions/health-factor", handlers.Positions.HealthFactor)
	mux.HandleFunc("DELETE /api/positions/cache", handlers.Positions.InvalidateCache)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Metrics must sit directly on the mux to see the matched pattern.
	var h http.Handler = middleware.Metrics(mux)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
