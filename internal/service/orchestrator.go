package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/metrics"
	"github.com/alanyoungcy/lendwatch/internal/retry"
)

// StrategyResolver returns the enabled sources of a protocol/network pair in
// attempt order. *strategy.Resolver satisfies it.
type StrategyResolver interface {
	Resolve(protocol domain.Protocol, network domain.Network) ([]domain.SourceType, error)
}

// AdapterLookup finds the adapter implementing one source.
// *strategy.Registry satisfies it.
type AdapterLookup interface {
	Adapter(key domain.AdapterKey) (domain.SourceAdapter, error)
}

// OrchestratorConfig tunes retries and the write-through TTL.
type OrchestratorConfig struct {
	Retry    retry.Options
	CacheTTL time.Duration
}

// FetchOrchestrator tries each configured source in priority order until one
// succeeds. It never reads the cache; successful results are written
// through to it.
type FetchOrchestrator struct {
	resolver StrategyResolver
	adapters AdapterLookup
	cache    domain.PositionCache
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewFetchOrchestrator wires an orchestrator. cache may be nil.
func NewFetchOrchestrator(
	resolver StrategyResolver,
	adapters AdapterLookup,
	cache domain.PositionCache,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *FetchOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchOrchestrator{
		resolver: resolver,
		adapters: adapters,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// FetchUserPositions validates q, walks the resolved sources and returns the
// first successful result, which may be empty. It fails with a validation or
// configuration error before any source is tried, with a cancellation error
// as soon as ctx ends, and with *domain.AllSourcesFailedError when every
// source gave up.
func (o *FetchOrchestrator) FetchUserPositions(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	positions, err := o.fetch(ctx, q)
	metrics.FetchDuration.WithLabelValues(string(q.Protocol), string(q.Network)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchFailuresTotal.WithLabelValues(string(q.Protocol), string(q.Network), domain.ErrorKind(err)).Inc()
		return nil, err
	}

	o.writeThrough(ctx, q, positions)
	return positions, nil
}

func (o *FetchOrchestrator) fetch(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	sources, err := o.resolver.Resolve(q.Protocol, q.Network)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no enabled source for %s/%s", domain.ErrConfiguration, q.Protocol, q.Network)
	}

	var failures []domain.SourceFailure
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, domain.Cancelled(err)
		}

		log := o.logger.With(
			slog.String("protocol", string(q.Protocol)),
			slog.String("network", string(q.Network)),
			slog.String("source", string(src)),
			slog.String("address", q.UserAddress),
		)

		adapter, err := o.adapters.Adapter(domain.AdapterKey{Protocol: q.Protocol, Network: q.Network, Source: src})
		if err != nil {
			log.WarnContext(ctx, "orchestrator: source has no adapter", slog.String("error", err.Error()))
			failures = append(failures, domain.SourceFailure{Source: src, Err: err})
			continue
		}

		positions, err := retry.Do(ctx, o.retryOptions(ctx, q, src, log), func(ctx context.Context) ([]domain.Position, error) {
			return adapter.Fetch(ctx, q)
		})
		if err == nil {
			metrics.SourceAttemptsTotal.WithLabelValues(string(q.Protocol), string(q.Network), string(src), "success").Inc()
			if positions == nil {
				positions = []domain.Position{}
			}
			log.DebugContext(ctx, "orchestrator: source succeeded", slog.Int("positions", len(positions)))
			return positions, nil
		}

		if ctx.Err() != nil || errors.Is(err, domain.ErrCancelled) {
			metrics.SourceAttemptsTotal.WithLabelValues(string(q.Protocol), string(q.Network), string(src), "cancelled").Inc()
			return nil, domain.Cancelled(err)
		}

		metrics.SourceAttemptsTotal.WithLabelValues(string(q.Protocol), string(q.Network), string(src), "failure").Inc()
		log.WarnContext(ctx, "orchestrator: source failed, falling back",
			slog.String("kind", domain.ErrorKind(err)),
			slog.String("error", err.Error()),
		)
		failures = append(failures, domain.SourceFailure{Source: src, Err: err})
	}

	return nil, &domain.AllSourcesFailedError{
		Protocol: q.Protocol,
		Network:  q.Network,
		Failures: failures,
	}
}

func (o *FetchOrchestrator) retryOptions(ctx context.Context, q domain.Query, src domain.SourceType, log *slog.Logger) retry.Options {
	opts := o.cfg.Retry
	opts.ShouldRetry = domain.IsRetryable
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.SourceRetriesTotal.WithLabelValues(string(q.Protocol), string(q.Network), string(src)).Inc()
		log.DebugContext(ctx, "orchestrator: retrying source",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	return opts
}

// writeThrough stores a successful result. Failures are logged and dropped.
func (o *FetchOrchestrator) writeThrough(ctx context.Context, q domain.Query, positions []domain.Position) {
	if o.cache == nil {
		return
	}
	key := q.CacheKey(domain.MethodFetchUserPositions)
	if err := o.cache.Set(ctx, key, positions, o.cfg.CacheTTL); err != nil {
		metrics.CacheWriteErrorsTotal.Inc()
		o.logger.WarnContext(ctx, "orchestrator: cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
