package config

import (
	"maps"
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// placeholder "***". Use this when logging or printing the active
// configuration so RPC keys and passwords are never exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Networks = maps.Clone(cfg.Networks)
	for name, n := range out.Networks {
		n.RPCURL = redactURL(n.RPCURL)
		out.Networks[name] = n
	}

	redact(&out.Subgraph.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Postgres.Password)
	out.Postgres.DSN = redactURL(cfg.Postgres.DSN)
	redact(&out.Server.APIKey)

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Sync.Wallets = slices.Clone(cfg.Sync.Wallets)
	out.Aave.Deployments = slices.Clone(cfg.Aave.Deployments)
	out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		s.Sources = slices.Clone(s.Sources)
		out.Strategies[i] = s
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps scheme and host so operators can tell endpoints apart, but
// hides credentials, paths and query strings, which is where providers put
// API keys.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	out := u.Scheme + "://"
	if u.User != nil {
		out += redacted + "@"
	}
	out += u.Host
	if u.Path != "" && u.Path != "/" {
		out += "/" + redacted
	}
	return out
}
