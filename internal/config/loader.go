package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LENDWATCH_* environment overrides, and returns
// the final Config. An empty path skips the file. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LENDWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject RPC keys and passwords at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Networks ──
	setRPCURL(cfg, "ethereum", "ETHEREUM_RPC_URL") // compatibility alias
	setRPCURL(cfg, "ethereum", "LENDWATCH_ETHEREUM_RPC_URL")
	setRPCURL(cfg, "arbitrum", "LENDWATCH_ARBITRUM_RPC_URL")
	setRPCURL(cfg, "mantle", "LENDWATCH_MANTLE_RPC_URL")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.APIKey, "GRAPH_STUDIO_API_KEY") // compatibility alias
	setStr(&cfg.Subgraph.APIKey, "LENDWATCH_SUBGRAPH_API_KEY")
	setStr(&cfg.Subgraph.GatewayURL, "LENDWATCH_SUBGRAPH_GATEWAY_URL")
	setDuration(&cfg.Subgraph.Timeout, "LENDWATCH_SUBGRAPH_TIMEOUT")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "LENDWATCH_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialDelay, "LENDWATCH_RETRY_INITIAL_DELAY")
	setFloat64(&cfg.Retry.BackoffFactor, "LENDWATCH_RETRY_BACKOFF_FACTOR")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "LENDWATCH_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "LENDWATCH_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LENDWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LENDWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LENDWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LENDWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LENDWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LENDWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LENDWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LENDWATCH_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LENDWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "LENDWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LENDWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LENDWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LENDWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LENDWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LENDWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LENDWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LENDWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LENDWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LENDWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "LENDWATCH_SYNC_INTERVAL")
	setInt(&cfg.Sync.Concurrency, "LENDWATCH_SYNC_CONCURRENCY")
	setDuration(&cfg.Sync.LockTTL, "LENDWATCH_SYNC_LOCK_TTL")
	setInt(&cfg.Sync.PaceLimit, "LENDWATCH_SYNC_PACE_LIMIT")
	setDuration(&cfg.Sync.PaceWindow, "LENDWATCH_SYNC_PACE_WINDOW")
	setWallets(&cfg.Sync.Wallets, "LENDWATCH_SYNC_WALLETS")

	// ── Server ──
	setInt(&cfg.Server.Port, "LENDWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LENDWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LENDWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LENDWATCH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LENDWATCH_SERVER_RATE_WINDOW")

	// ── Risk ──
	setStr(&cfg.Risk.Danger, "LENDWATCH_RISK_DANGER")
	setStr(&cfg.Risk.Warning, "LENDWATCH_RISK_WARNING")

	// ── Top-level ──
	setStr(&cfg.Mode, "LENDWATCH_MODE")
	setStr(&cfg.LogLevel, "LENDWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitList(v, ",")
	}
}

func setRPCURL(cfg *Config, network, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if cfg.Networks == nil {
		cfg.Networks = make(map[string]NetworkConfig)
	}
	n := cfg.Networks[network]
	n.RPCURL = v
	cfg.Networks[network] = n
}

// setWallets parses "protocol:network:address" entries separated by commas.
// Malformed entries are ignored; Validate reports the ones that parse but
// name an unknown protocol or network.
func setWallets(dst *[]WalletConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []WalletConfig
	for _, entry := range splitList(v, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			continue
		}
		out = append(out, WalletConfig{
			Protocol: strings.TrimSpace(parts[0]),
			Network:  strings.TrimSpace(parts[1]),
			Address:  strings.TrimSpace(parts[2]),
		})
	}
	*dst = out
}

func splitList(v, sep string) []string {
	parts := strings.Split(v, sep)
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
