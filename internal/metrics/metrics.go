// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lendwatch"

// ── HTTP request metrics ───────────────────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Fetch metrics ──────────────────────────────────────────────────────

var (
	SourceAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "source_attempts_total",
		Help:      "Source attempts after retries, by outcome.",
	}, []string{"protocol", "network", "source", "outcome"})

	SourceRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "source_retries_total",
		Help:      "Retries scheduled against a source.",
	}, []string{"protocol", "network", "source"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "End-to-end fetch latency including fallback.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"protocol", "network"})

	FetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "failures_total",
		Help:      "Failed fetches by error kind.",
	}, []string{"protocol", "network", "kind"})
)

// ── Cache metrics ──────────────────────────────────────────────────────

var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	CacheWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "write_errors_total",
		Help:      "Result cache writes that failed and were ignored.",
	})
)

// ── Sync metrics ───────────────────────────────────────────────────────

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Watchlist sync passes by status.",
	}, []string{"status"})

	SyncWalletsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "wallets_total",
		Help:      "Per-wallet sync outcomes (ok, failed, skipped).",
	}, []string{"outcome"})

	HealthFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "position",
		Name:      "health_factor",
		Help:      "Last observed health factor of a watched wallet.",
	}, []string{"protocol", "network", "address"})
)
