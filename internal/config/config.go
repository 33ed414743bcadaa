// Package config defines the lendwatch configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then overridden by LENDWATCH_* environment variables.
type Config struct {
	Mode       string                   `toml:"mode"`
	LogLevel   string                   `toml:"log_level"`
	Networks   map[string]NetworkConfig `toml:"networks"`
	Aave       AaveConfig               `toml:"aave"`
	Subgraph   SubgraphConfig           `toml:"subgraph"`
	Retry      RetryConfig              `toml:"retry"`
	Cache      CacheConfig              `toml:"cache"`
	Redis      RedisConfig              `toml:"redis"`
	Postgres   PostgresConfig           `toml:"postgres"`
	Sync       SyncConfig               `toml:"sync"`
	Server     ServerConfig             `toml:"server"`
	Risk       RiskConfig               `toml:"risk"`
	Strategies []StrategyConfig         `toml:"strategies"`
}

// NetworkConfig is the RPC endpoint of one chain. RPC URLs usually embed a
// provider key.
type NetworkConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
}

// AaveConfig overrides or extends the built-in Aave deployments.
type AaveConfig struct {
	Deployments []AaveDeploymentConfig `toml:"deployments"`
}

// AaveDeploymentConfig is one market's address table.
type AaveDeploymentConfig struct {
	Network              string `toml:"network"`
	Pool                 string `toml:"pool"`
	DataProvider         string `toml:"data_provider"`
	Oracle               string `toml:"oracle"`
	BaseCurrencyDecimals int    `toml:"base_currency_decimals"`
	SubgraphID           string `toml:"subgraph_id"`
}

// SubgraphConfig holds The Graph gateway parameters.
type SubgraphConfig struct {
	GatewayURL string   `toml:"gateway_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
}

// RetryConfig tunes per-source retries.
type RetryConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	InitialDelay  duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend string   `toml:"backend"` // memory | redis
	TTL     duration `toml:"ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds snapshot database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SyncConfig controls the watchlist job.
type SyncConfig struct {
	Interval    duration       `toml:"interval"`
	Concurrency int            `toml:"concurrency"`
	LockTTL     duration       `toml:"lock_ttl"`
	PaceLimit   int            `toml:"pace_limit"`
	PaceWindow  duration       `toml:"pace_window"`
	Wallets     []WalletConfig `toml:"wallets"`
}

// WalletConfig is one watched account.
type WalletConfig struct {
	Protocol string `toml:"protocol"`
	Network  string `toml:"network"`
	Address  string `toml:"address"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// RiskConfig holds the inclusive health factor thresholds.
type RiskConfig struct {
	Danger  string `toml:"danger"`
	Warning string `toml:"warning"`
}

// StrategyConfig is the fallback order for one protocol/network pair.
type StrategyConfig struct {
	Protocol string         `toml:"protocol"`
	Network  string         `toml:"network"`
	Sources  []SourceConfig `toml:"sources"`
}

// SourceConfig is one entry of a strategy.
type SourceConfig struct {
	Type     string `toml:"type"`
	Priority int    `toml:"priority"`
	Enabled  bool   `toml:"enabled"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Networks: map[string]NetworkConfig{
			"ethereum": {ChainID: 1},
		},
		Subgraph: SubgraphConfig{
			GatewayURL: "https://gateway.thegraph.com/api",
			Timeout:    duration{30 * time.Second},
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  duration{time.Second},
			BackoffFactor: 2,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "lendwatch:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lendwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Sync: SyncConfig{
			Interval:    duration{5 * time.Minute},
			Concurrency: 4,
			LockTTL:     duration{2 * time.Minute},
			PaceLimit:   5,
			PaceWindow:  duration{time.Second},
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Risk: RiskConfig{Danger: "1.1", Warning: "1.5"},
		Strategies: []StrategyConfig{{
			Protocol: "AAVE",
			Network:  "ethereum",
			Sources: []SourceConfig{
				{Type: "ON_CHAIN", Priority: 1, Enabled: true},
				{Type: "SUBGRAPH", Priority: 2, Enabled: true},
			},
		}},
	}
}

var validModes = map[string]bool{
	"server": true,
	"sync":   true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	for name, n := range c.Networks {
		if _, ok := domain.ParseNetwork(name); !ok {
			errs = append(errs, fmt.Sprintf("networks: unknown network %q", name))
		}
		if n.RPCURL != "" {
			if u, err := url.Parse(n.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("networks.%s: rpc_url is not a URL", name))
			}
		}
	}

	for i, d := range c.Aave.Deployments {
		if _, ok := domain.ParseNetwork(d.Network); !ok {
			errs = append(errs, fmt.Sprintf("aave.deployments[%d]: unknown network %q", i, d.Network))
		}
		for field, addr := range map[string]string{"pool": d.Pool, "data_provider": d.DataProvider, "oracle": d.Oracle} {
			if !isHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("aave.deployments[%d]: %s is not an address", i, field))
			}
		}
		if d.BaseCurrencyDecimals < 0 || d.BaseCurrencyDecimals > 36 {
			errs = append(errs, fmt.Sprintf("aave.deployments[%d]: base_currency_decimals out of range", i))
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.InitialDelay.Duration <= 0 {
		errs = append(errs, "retry: initial_delay must be positive")
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, "retry: backoff_factor must be >= 1")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "cache: backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: memory, redis)", c.Cache.Backend))
	}
	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be positive")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if mode == "sync" || mode == "full" {
		if len(c.Sync.Wallets) == 0 {
			errs = append(errs, "sync: at least one wallet is required for mode "+mode)
		}
		if c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: interval must be positive")
		}
		if c.Sync.Concurrency < 1 {
			errs = append(errs, "sync: concurrency must be >= 1")
		}
	}
	for i, w := range c.Sync.Wallets {
		q := domain.Query{
			Protocol:    domain.Protocol(w.Protocol),
			Network:     domain.Network(w.Network),
			UserAddress: w.Address,
		}.Normalized()
		if err := q.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sync.wallets[%d]: %v", i, err))
		}
	}

	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if _, err := c.RiskThresholds(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.SourceStrategies(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RiskThresholds parses the [risk] section.
func (c *Config) RiskThresholds() (domain.RiskThresholds, error) {
	danger, err := decimal.NewFromString(c.Risk.Danger)
	if err != nil {
		return domain.RiskThresholds{}, fmt.Errorf("risk: danger %q is not a decimal", c.Risk.Danger)
	}
	warning, err := decimal.NewFromString(c.Risk.Warning)
	if err != nil {
		return domain.RiskThresholds{}, fmt.Errorf("risk: warning %q is not a decimal", c.Risk.Warning)
	}
	if danger.GreaterThan(warning) {
		return domain.RiskThresholds{}, fmt.Errorf("risk: danger %s exceeds warning %s", danger, warning)
	}
	return domain.RiskThresholds{Danger: danger, Warning: warning}, nil
}

// SourceStrategies converts [[strategies]] into domain values.
func (c *Config) SourceStrategies() ([]domain.SourceStrategy, error) {
	out := make([]domain.SourceStrategy, 0, len(c.Strategies))
	for i, s := range c.Strategies {
		protocol, ok := domain.ParseProtocol(s.Protocol)
		if !ok {
			return nil, fmt.Errorf("strategies[%d]: unknown protocol %q", i, s.Protocol)
		}
		network, ok := domain.ParseNetwork(s.Network)
		if !ok {
			return nil, fmt.Errorf("strategies[%d]: unknown network %q", i, s.Network)
		}
		st := domain.SourceStrategy{Protocol: protocol, Network: network}
		enabled := false
		for j, src := range s.Sources {
			t, ok := domain.ParseSourceType(src.Type)
			if !ok {
				return nil, fmt.Errorf("strategies[%d].sources[%d]: unknown type %q", i, j, src.Type)
			}
			enabled = enabled || src.Enabled
			st.Sources = append(st.Sources, domain.SourceConfig{Type: t, Priority: src.Priority, Enabled: src.Enabled})
		}
		if !enabled {
			return nil, fmt.Errorf("strategies[%d]: %s/%s has no enabled source", i, protocol, network)
		}
		out = append(out, st)
	}
	return out, nil
}

// Watchlist converts [[sync.wallets]] into queries.
func (c *Config) Watchlist() []domain.Query {
	out := make([]domain.Query, 0, len(c.Sync.Wallets))
	for _, w := range c.Sync.Wallets {
		out = append(out, domain.Query{
			Protocol:    domain.Protocol(w.Protocol),
			Network:     domain.Network(w.Network),
			UserAddress: w.Address,
		}.Normalized())
	}
	return out
}

func isHexAddress(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
