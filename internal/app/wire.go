package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lendwatch/internal/cache/memory"
	"github.com/alanyoungcy/lendwatch/internal/cache/redis"
	"github.com/alanyoungcy/lendwatch/internal/config"
	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/platform/evm"
	"github.com/alanyoungcy/lendwatch/internal/platform/subgraph"
	"github.com/alanyoungcy/lendwatch/internal/retry"
	"github.com/alanyoungcy/lendwatch/internal/server/handler"
	"github.com/alanyoungcy/lendwatch/internal/server/ws"
	"github.com/alanyoungcy/lendwatch/internal/service"
	"github.com/alanyoungcy/lendwatch/internal/source/aave"
	"github.com/alanyoungcy/lendwatch/internal/store/postgres"
	"github.com/alanyoungcy/lendwatch/internal/strategy"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Source selection
	Registry *strategy.Registry
	Resolver *strategy.Resolver

	// Caches and coordination; the Redis-backed ones are nil without Redis.
	Cache       domain.PositionCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Persistence; nil unless postgres.enabled.
	SnapshotStore domain.SnapshotStore

	// Services
	Orchestrator *service.FetchOrchestrator
	Positions    *service.PositionService
	Sync         *service.SyncService

	// Hub streams position updates; nil in sync mode.
	Hub *ws.Hub

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// needsHTTP returns true for modes that serve the API.
func needsHTTP(mode string) bool {
	switch strings.ToLower(mode) {
	case "server", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	thresholds, err := cfg.RiskThresholds()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Source adapters ---
	deps.Registry = strategy.NewRegistry()
	for network, d := range deployments(cfg) {
		key := func(src domain.SourceType) domain.AdapterKey {
			return domain.AdapterKey{Protocol: domain.ProtocolAave, Network: network, Source: src}
		}

		if rpcURL := cfg.Networks[string(network)].RPCURL; rpcURL != "" {
			client, err := evm.Dial(ctx, rpcURL)
			if err != nil {
				return fail(fmt.Errorf("wire: dial %s rpc: %w", network, err))
			}
			closers = append(closers, client.Close)
			deps.Registry.Register(key(domain.SourceOnChain), aave.NewOnChainAdapter(client, d, logger))
		} else {
			logger.WarnContext(ctx, "wire: no rpc_url, on-chain source disabled",
				slog.String("network", string(network)))
		}

		if d.SubgraphID != "" && cfg.Subgraph.APIKey != "" {
			endpoint := subgraph.Endpoint(cfg.Subgraph.GatewayURL, d.SubgraphID)
			client := subgraph.NewClient(endpoint, cfg.Subgraph.APIKey, cfg.Subgraph.Timeout.Duration)
			deps.Registry.Register(key(domain.SourceSubgraph), aave.NewSubgraphAdapter(client, network, logger))
		} else {
			logger.WarnContext(ctx, "wire: no subgraph api key or id, subgraph source disabled",
				slog.String("network", string(network)))
		}
	}

	strategies, err := cfg.SourceStrategies()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if len(strategies) == 0 {
		strategies = strategy.Defaults()
	}
	deps.Resolver, err = strategy.NewResolver(strategies)
	if err != nil {
		return fail(fmt.Errorf("wire: strategies: %w", err))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Sync.PaceLimit, cfg.Sync.PaceWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
		if cfg.Cache.Backend == "redis" {
			deps.Cache = redis.NewResultCache(redisClient, cfg.Cache.TTL.Duration)
		}
	}
	if deps.Cache == nil {
		deps.Cache = memory.NewResultCache(cfg.Cache.TTL.Duration)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.SnapshotStore = postgres.NewSnapshotStore(pgClient.Pool())
		deps.Pingers["postgres"] = pgClient
	}

	// --- Hub ---
	// Without Redis the hub is fed in-process instead of through the bus.
	bus := deps.SignalBus
	if needsHTTP(cfg.Mode) {
		deps.Hub = ws.NewHub(deps.SignalBus, logger)
		if bus == nil {
			bus = hubBus{hub: deps.Hub}
		}
	}

	// --- Services ---
	deps.Orchestrator = service.NewFetchOrchestrator(
		deps.Resolver,
		deps.Registry,
		deps.Cache,
		service.OrchestratorConfig{
			Retry: retry.Options{
				MaxAttempts:   cfg.Retry.MaxAttempts,
				InitialDelay:  cfg.Retry.InitialDelay.Duration,
				BackoffFactor: cfg.Retry.BackoffFactor,
			},
			CacheTTL: cfg.Cache.TTL.Duration,
		},
		logger,
	)
	deps.Positions = service.NewPositionService(
		deps.Orchestrator, deps.Cache, deps.SnapshotStore, bus, thresholds, logger,
	)
	if wallets := cfg.Watchlist(); len(wallets) > 0 {
		deps.Sync = service.NewSyncService(
			deps.Positions,
			deps.LockManager,
			deps.RateLimiter,
			wallets,
			service.SyncConfig{
				Interval:    cfg.Sync.Interval.Duration,
				Concurrency: cfg.Sync.Concurrency,
				LockTTL:     cfg.Sync.LockTTL.Duration,
			},
			logger,
		)
	}

	return deps, cleanup, nil
}

// deployments merges configured Aave deployments over the built-in ones.
func deployments(cfg *config.Config) map[domain.Network]aave.Deployment {
	out := aave.DefaultDeployments()
	for _, d := range cfg.Aave.Deployments {
		network, ok := domain.ParseNetwork(d.Network)
		if !ok {
			continue
		}
		out[network] = aave.Deployment{
			Network:              network,
			Pool:                 common.HexToAddress(d.Pool),
			DataProvider:         common.HexToAddress(d.DataProvider),
			Oracle:               common.HexToAddress(d.Oracle),
			BaseCurrencyDecimals: int32(d.BaseCurrencyDecimals),
			SubgraphID:           d.SubgraphID,
		}
	}
	return out
}

// hubBus delivers published updates straight to the websocket hub when no
// shared bus is configured.
type hubBus struct {
	hub *ws.Hub
}

func (b hubBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.hub.Publish(payload)
	return nil
}

func (b hubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, fmt.Errorf("app: in-process bus has no subscribers")
}
