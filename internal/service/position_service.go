package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/metrics"
)

// CacheStatus reports how a result was obtained.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
	// CacheStale marks a report built from the last stored snapshot after
	// every source failed.
	CacheStale  CacheStatus = "stale"
)

// PositionResult is the outcome of a read.
type PositionResult struct {
	Positions []domain.Position
	Cache     CacheStatus
}

// HealthReport summarizes the risk of one user's position.
type HealthReport struct {
	Protocol     domain.Protocol  `json:"protocol"`
	Network      domain.Network   `json:"network"`
	UserAddress  string           `json:"userAddress"`
	HealthFactor string           `json:"healthFactor"`
	RiskLevel    domain.RiskLevel `json:"riskLevel"`
	Timestamp    int64            `json:"timestamp"`
	Cache        CacheStatus      `json:"cache"`
}

// PositionUpdate is published on the signal bus after every fresh fetch.
type PositionUpdate struct {
	Type        string            `json:"type"`
	Protocol    domain.Protocol   `json:"protocol"`
	Network     domain.Network    `json:"network"`
	UserAddress string            `json:"userAddress"`
	Positions   []domain.Position `json:"positions"`
}

// Fetcher runs the cache-miss path. *FetchOrchestrator satisfies it.
type Fetcher interface {
	FetchUserPositions(ctx context.Context, q domain.Query) ([]domain.Position, error)
}

// PositionService is the read-through entry point above the orchestrator.
// Concurrent misses on the same key share one fetch.
type PositionService struct {
	fetcher    Fetcher
	cache      domain.PositionCache
	store      domain.SnapshotStore
	bus        domain.SignalBus
	thresholds domain.RiskThresholds
	group      singleflight.Group
	logger     *slog.Logger
}

// NewPositionService creates a PositionService. cache, store and bus are
// optional.
func NewPositionService(
	fetcher Fetcher,
	cache domain.PositionCache,
	store domain.SnapshotStore,
	bus domain.SignalBus,
	thresholds domain.RiskThresholds,
	logger *slog.Logger,
) *PositionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionService{
		fetcher:    fetcher,
		cache:      cache,
		store:      store,
		bus:        bus,
		thresholds: thresholds,
		logger:     logger,
	}
}

// PositionsChannel is the bus channel for updates of one protocol/network.
func PositionsChannel(protocol domain.Protocol, network domain.Network) string {
	return strings.ToLower("positions:" + string(protocol) + ":" + string(network))
}

// GetPositions returns cached positions when present and fetches otherwise.
// A cache read error is treated as a miss.
func (s *PositionService) GetPositions(ctx context.Context, q domain.Query) (PositionResult, error) {
	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return PositionResult{}, err
	}

	if s.cache != nil {
		key := q.CacheKey(domain.MethodFetchUserPositions)
		positions, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
			s.logger.WarnContext(ctx, "position_service: cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		case ok:
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			return PositionResult{Positions: withPeriod(positions, q), Cache: CacheHit}, nil
		default:
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	positions, err := s.coalesced(ctx, q)
	if err != nil {
		return PositionResult{}, err
	}
	return PositionResult{Positions: positions, Cache: CacheMiss}, nil
}

// Refresh drops the cached entry and fetches from the sources.
func (s *PositionService) Refresh(ctx context.Context, q domain.Query) (PositionResult, error) {
	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return PositionResult{}, err
	}
	if err := s.invalidate(ctx, q); err != nil {
		s.logger.WarnContext(ctx, "position_service: invalidate before refresh failed",
			slog.String("error", err.Error()),
		)
	}
	positions, err := s.fetchAndRecord(ctx, q)
	if err != nil {
		return PositionResult{}, err
	}
	return PositionResult{Positions: positions, Cache: CacheBypass}, nil
}

// InvalidateCache removes the cached result for q.
func (s *PositionService) InvalidateCache(ctx context.Context, q domain.Query) error {
	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return err
	}
	return s.invalidate(ctx, q)
}

func (s *PositionService) invalidate(ctx context.Context, q domain.Query) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, q.CacheKey(domain.MethodFetchUserPositions)); err != nil {
		return fmt.Errorf("position_service: invalidate: %w", err)
	}
	return nil
}

// HealthFactor reads the position through the cache and classifies its
// health factor. A user without a position is domain.ErrNotFound. When every
// source fails, the last stored snapshot is reported as stale.
func (s *PositionService) HealthFactor(ctx context.Context, q domain.Query) (HealthReport, error) {
	res, err := s.GetPositions(ctx, q)
	if err != nil {
		if p, ok := s.lastKnown(ctx, q, err); ok {
			return s.report(p, CacheStale), nil
		}
		return HealthReport{}, err
	}
	if len(res.Positions) == 0 {
		return HealthReport{}, fmt.Errorf("%w: no %s position on %s for %s",
			domain.ErrNotFound, q.Protocol, q.Network, q.UserAddress)
	}
	return s.report(res.Positions[0], res.Cache), nil
}

func (s *PositionService) report(p domain.Position, cache CacheStatus) HealthReport {
	return HealthReport{
		Protocol:     p.Protocol,
		Network:      p.Network,
		UserAddress:  p.UserAddress,
		HealthFactor: p.HealthFactor,
		RiskLevel:    s.thresholds.Classify(p.HealthFactor),
		Timestamp:    p.Timestamp,
		Cache:        cache,
	}
}

// lastKnown loads the newest stored snapshot for q after fetchErr exhausted
// every source.
func (s *PositionService) lastKnown(ctx context.Context, q domain.Query, fetchErr error) (domain.Position, bool) {
	if s.store == nil || !errors.Is(fetchErr, domain.ErrAllSourcesFailed) {
		return domain.Position{}, false
	}
	q = q.Normalized()
	p, err := s.store.Latest(ctx, domain.PositionKey{Protocol: q.Protocol, Network: q.Network, UserAddress: q.UserAddress})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("position_service: latest snapshot", slog.String("error", err.Error()))
		}
		return domain.Position{}, false
	}
	s.logger.Warn("position_service: serving stale health factor",
		slog.String("user", q.UserAddress),
		slog.Int64("snapshot_ts", p.Timestamp),
		slog.String("cause", fetchErr.Error()),
	)
	return p, true
}

// History lists stored snapshots, newest first.
func (s *PositionService) History(ctx context.Context, key domain.PositionKey, opts domain.ListOpts) ([]domain.Position, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: snapshot history requires postgres", domain.ErrConfiguration)
	}
	q := domain.Query{Protocol: key.Protocol, Network: key.Network, UserAddress: key.UserAddress}.Normalized()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if opts.Since != nil && opts.Until != nil && opts.Since.After(*opts.Until) {
		return nil, fmt.Errorf("%w: since is after until", domain.ErrValidation)
	}
	key = domain.PositionKey{Protocol: q.Protocol, Network: q.Network, UserAddress: q.UserAddress}
	positions, err := s.store.ListHistory(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: history: %w", err)
	}
	return positions, nil
}

// coalesced shares one fetch among concurrent callers of the same key. A
// caller whose own context is still live retries alone if the shared fetch
// was cancelled by the caller that started it.
func (s *PositionService) coalesced(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	key := q.CacheKey(domain.MethodFetchUserPositions)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetchAndRecord(ctx, q)
	})

	select {
	case <-ctx.Done():
		return nil, domain.Cancelled(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			if errors.Is(r.Err, domain.ErrCancelled) && r.Shared && ctx.Err() == nil {
				return s.fetchAndRecord(ctx, q)
			}
			return nil, r.Err
		}
		return withPeriod(r.Val.([]domain.Position), q), nil
	}
}

// fetchAndRecord runs the orchestrator, then persists and publishes the
// result. Persistence and publishing never fail the call.
func (s *PositionService) fetchAndRecord(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	positions, err := s.fetcher.FetchUserPositions(ctx, q)
	if err != nil {
		return nil, err
	}

	if s.store != nil && len(positions) > 0 {
		if err := s.store.Save(ctx, positions); err != nil {
			s.logger.WarnContext(ctx, "position_service: save snapshot failed",
				slog.String("address", q.UserAddress),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(PositionUpdate{
			Type:        "positions",
			Protocol:    q.Protocol,
			Network:     q.Network,
			UserAddress: q.UserAddress,
			Positions:   positions,
		})
		if err := s.bus.Publish(ctx, PositionsChannel(q.Protocol, q.Network), evt); err != nil {
			s.logger.WarnContext(ctx, "position_service: publish update failed",
				slog.String("address", q.UserAddress),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.DebugContext(ctx, "position_service: fetched",
		slog.String("protocol", string(q.Protocol)),
		slog.String("network", string(q.Network)),
		slog.String("address", q.UserAddress),
		slog.Int("positions", len(positions)),
	)
	return positions, nil
}

// withPeriod returns a copy of positions stamped with the query's period.
func withPeriod(positions []domain.Position, q domain.Query) []domain.Position {
	out := make([]domain.Position, len(positions))
	copy(out, positions)
	for i := range out {
		out[i].PeriodStart = q.From
		out[i].PeriodEnd = q.To
	}
	return out
}
