package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/metrics"
)

// Refresher re-fetches one query bypassing the cache.
type Refresher interface {
	Refresh(ctx context.Context, q domain.Query) (PositionResult, error)
}

// SyncConfig controls the watchlist job.
type SyncConfig struct {
	Interval    time.Duration
	Concurrency int
	LockTTL     time.Duration
}

// SyncReport counts the outcomes of one pass.
type SyncReport struct {
	OK      int64
	Failed  int64
	Skipped int64
}

// SyncService periodically refreshes a fixed list of wallets. Each wallet is
// guarded by a distributed lock so several replicas can run the job, and
// calls are paced per network through the rate limiter.
type SyncService struct {
	positions Refresher
	locks     domain.LockManager
	limiter   domain.RateLimiter
	wallets   []domain.Query
	cfg       SyncConfig
	logger    *slog.Logger
}

// NewSyncService creates a SyncService. locks and limiter may be nil.
func NewSyncService(
	positions Refresher,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	wallets []domain.Query,
	cfg SyncConfig,
	logger *slog.Logger,
) *SyncService {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]domain.Query, len(wallets))
	for i, w := range wallets {
		normalized[i] = w.Normalized()
	}
	return &SyncService{
		positions: positions,
		locks:     locks,
		limiter:   limiter,
		wallets:   normalized,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run syncs immediately and then on every interval until ctx ends.
func (s *SyncService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sync: started",
		slog.Int("wallets", len(s.wallets)),
		slog.Duration("interval", s.cfg.Interval),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sync: pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce refreshes every wallet once with bounded concurrency. Individual
// wallet failures are counted, not returned.
func (s *SyncService) RunOnce(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	var ok, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, w := range s.wallets {
		g.Go(func() error {
			switch s.syncWallet(gctx, w) {
			case "ok":
				ok.Add(1)
			case "skipped":
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SyncReport{OK: ok.Load(), Failed: failed.Load(), Skipped: skipped.Load()}
	if err := ctx.Err(); err != nil {
		metrics.SyncRunsTotal.WithLabelValues("cancelled").Inc()
		return report, domain.Cancelled(err)
	}

	status := "ok"
	if report.Failed > 0 {
		status = "partial"
	}
	metrics.SyncRunsTotal.WithLabelValues(status).Inc()
	s.logger.InfoContext(ctx, "sync: pass complete",
		slog.Int64("ok", report.OK),
		slog.Int64("failed", report.Failed),
		slog.Int64("skipped", report.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// syncLockKey is "sync:<protocol>:<network>:<address>".
func syncLockKey(q domain.Query) string {
	return strings.ToLower(strings.Join([]string{"sync", string(q.Protocol), string(q.Network), q.UserAddress}, ":"))
}

func (s *SyncService) syncWallet(ctx context.Context, q domain.Query) string {
	log := s.logger.With(
		slog.String("protocol", string(q.Protocol)),
		slog.String("network", string(q.Network)),
		slog.String("address", q.UserAddress),
	)

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, syncLockKey(q), s.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				log.WarnContext(ctx, "sync: lock failed", slog.String("error", err.Error()))
			}
			metrics.SyncWalletsTotal.WithLabelValues("skipped").Inc()
			return "skipped"
		}
		defer unlock()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "sync:"+string(q.Network)); err != nil {
			log.WarnContext(ctx, "sync: pacing wait aborted", slog.String("error", err.Error()))
			metrics.SyncWalletsTotal.WithLabelValues("failed").Inc()
			return "failed"
		}
	}

	res, err := s.positions.Refresh(ctx, q)
	if err != nil {
		log.WarnContext(ctx, "sync: refresh failed",
			slog.String("kind", domain.ErrorKind(err)),
			slog.String("error", err.Error()),
		)
		metrics.SyncWalletsTotal.WithLabelValues("failed").Inc()
		return "failed"
	}

	for _, p := range res.Positions {
		if hf, err := decimal.NewFromString(p.HealthFactor); err == nil {
			metrics.HealthFactor.WithLabelValues(string(p.Protocol), string(p.Network), p.UserAddress).Set(hf.InexactFloat64())
		}
	}
	metrics.SyncWalletsTotal.WithLabelValues("ok").Inc()
	return "ok"
}
