package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/cache/memory"
	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/retry"
	"github.com/alanyoungcy/lendwatch/internal/strategy"
)

// scriptedAdapter replays a fixed list of outcomes; the last one repeats.
type scriptedAdapter struct {
	mu      sync.Mutex
	results []outcome
	calls   atomic.Int32
	delay   time.Duration
}

type outcome struct {
	positions []domain.Position
	err       error
}

func (a *scriptedAdapter) Fetch(ctx context.Context, _ domain.Query) ([]domain.Position, error) {
	n := int(a.calls.Add(1)) - 1
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, domain.Cancelled(ctx.Err())
		case <-time.After(a.delay):
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n >= len(a.results) {
		n = len(a.results) - 1
	}
	return a.results[n].positions, a.results[n].err
}

func succeed(p ...domain.Position) *scriptedAdapter {
	if p == nil {
		p = []domain.Position{}
	}
	return &scriptedAdapter{results: []outcome{{positions: p}}}
}

func fail(err error) *scriptedAdapter {
	return &scriptedAdapter{results: []outcome{{err: err}}}
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]domain.Position, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []domain.Position, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Invalidate(context.Context, string) error {
	return errors.New("cache down")
}

func scenarioPosition() domain.Position {
	return domain.Position{
		Protocol:       domain.ProtocolAave,
		Network:        domain.NetworkEthereum,
		UserAddress:    "0xabc",
		Collateral:     domain.StringPtr("1000"),
		Debt:           domain.StringPtr("500"),
		HealthFactor:   "2.0",
		BorrowedAssets: []domain.BorrowedAsset{},
		Timestamp:      1700000000,
	}
}

func aaveQuery() domain.Query {
	return domain.Query{Protocol: domain.ProtocolAave, Network: domain.NetworkEthereum, UserAddress: "0xabc"}
}

type harness struct {
	orch     *FetchOrchestrator
	cache    domain.PositionCache
	onChain  *scriptedAdapter
	subgraph *scriptedAdapter
}

func newHarness(t *testing.T, onChain, subgraph *scriptedAdapter, cache domain.PositionCache) *harness {
	t.Helper()
	resolver, err := strategy.NewResolver([]domain.SourceStrategy{{
		Protocol: domain.ProtocolAave,
		Network:  domain.NetworkEthereum,
		Sources: []domain.SourceConfig{
			{Type: domain.SourceSubgraph, Priority: 2, Enabled: true},
			{Type: domain.SourceOnChain, Priority: 1, Enabled: true},
		},
	}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	reg := strategy.NewRegistry()
	if onChain != nil {
		reg.Register(domain.AdapterKey{Protocol: domain.ProtocolAave, Network: domain.NetworkEthereum, Source: domain.SourceOnChain}, onChain)
	}
	if subgraph != nil {
		reg.Register(domain.AdapterKey{Protocol: domain.ProtocolAave, Network: domain.NetworkEthereum, Source: domain.SourceSubgraph}, subgraph)
	}
	cfg := OrchestratorConfig{
		Retry:    retry.Options{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2},
		CacheTTL: time.Minute,
	}
	return &harness{
		orch:     NewFetchOrchestrator(resolver, reg, cache, cfg, nil),
		cache:    cache,
		onChain:  onChain,
		subgraph: subgraph,
	}
}

func TestFallbackAfterRetries(t *testing.T) {
	h := newHarness(t, fail(domain.Transient(errors.New("timeout"))), succeed(scenarioPosition()), nil)

	got, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	if err != nil {
		t.Fatalf("FetchUserPositions: %v", err)
	}
	if len(got) != 1 || *got[0].Debt != "500" {
		t.Errorf("got %+v", got)
	}
	if n := h.onChain.calls.Load(); n != 3 {
		t.Errorf("on-chain attempts = %d, want 3", n)
	}
}

func TestEmptyResultShortCircuits(t *testing.T) {
	h := newHarness(t, succeed(), succeed(scenarioPosition()), nil)

	got, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	if err != nil {
		t.Fatalf("FetchUserPositions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty", got)
	}
	if h.subgraph.calls.Load() != 0 {
		t.Error("second source must not run after a success")
	}
}

func TestDataFormatIsNotRetried(t *testing.T) {
	h := newHarness(t, fail(domain.DataFormatf("bad payload")), succeed(scenarioPosition()), nil)

	if _, err := h.orch.FetchUserPositions(context.Background(), aaveQuery()); err != nil {
		t.Fatalf("FetchUserPositions: %v", err)
	}
	if n := h.onChain.calls.Load(); n != 1 {
		t.Errorf("on-chain attempts = %d, want 1", n)
	}
}

func TestAllSourcesFailed(t *testing.T) {
	h := newHarness(t,
		fail(domain.Transient(errors.New("rpc down"))),
		fail(domain.DataFormatf("null data")),
		nil,
	)

	_, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	var agg *domain.AllSourcesFailedError
	if !errors.As(err, &agg) {
		t.Fatalf("err = %v, want AllSourcesFailedError", err)
	}
	if !errors.Is(err, domain.ErrAllSourcesFailed) {
		t.Error("aggregate should match ErrAllSourcesFailed")
	}
	if errors.Is(err, domain.ErrTransientSource) {
		t.Error("aggregate should not expose cause kinds")
	}
	if len(agg.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(agg.Failures))
	}
	if agg.Failures[0].Source != domain.SourceOnChain || agg.Failures[1].Source != domain.SourceSubgraph {
		t.Errorf("failure order = %s, %s", agg.Failures[0].Source, agg.Failures[1].Source)
	}
	if !errors.Is(agg.Failures[1].Err, domain.ErrDataFormat) {
		t.Errorf("second cause = %v", agg.Failures[1].Err)
	}
}

func TestValidationBeforeAnySource(t *testing.T) {
	h := newHarness(t, succeed(), succeed(), nil)
	q := aaveQuery()
	q.UserAddress = ""

	_, err := h.orch.FetchUserPositions(context.Background(), q)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if h.onChain.calls.Load()+h.subgraph.calls.Load() != 0 {
		t.Error("no adapter should run on invalid input")
	}
}

func TestUnconfiguredPair(t *testing.T) {
	h := newHarness(t, succeed(), succeed(), nil)
	q := aaveQuery()
	q.Protocol = domain.ProtocolSilo

	_, err := h.orch.FetchUserPositions(context.Background(), q)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration", err)
	}
}

func TestAllSourcesDisabledIsConfigurationError(t *testing.T) {
	resolver, err := strategy.NewResolver([]domain.SourceStrategy{{
		Protocol: domain.ProtocolAave,
		Network:  domain.NetworkEthereum,
		Sources:  []domain.SourceConfig{{Type: domain.SourceOnChain, Priority: 1}},
	}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	onChain := succeed(scenarioPosition())
	reg := strategy.NewRegistry()
	reg.Register(domain.AdapterKey{Protocol: domain.ProtocolAave, Network: domain.NetworkEthereum, Source: domain.SourceOnChain}, onChain)
	orch := NewFetchOrchestrator(resolver, reg, nil, OrchestratorConfig{CacheTTL: time.Minute}, nil)

	_, err = orch.FetchUserPositions(context.Background(), aaveQuery())
	if !errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if kind := domain.ErrorKind(err); kind != "ConfigurationError" {
		t.Errorf("kind = %s", kind)
	}
	if n := onChain.calls.Load(); n != 0 {
		t.Errorf("disabled source called %d times", n)
	}
}

func TestMissingAdapterFallsThrough(t *testing.T) {
	h := newHarness(t, nil, succeed(scenarioPosition()), nil)

	got, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	if err != nil || len(got) != 1 {
		t.Fatalf("FetchUserPositions = %v, %v", got, err)
	}
}

func TestCancellationStopsFallback(t *testing.T) {
	slow := succeed(scenarioPosition())
	slow.delay = 5 * time.Second
	h := newHarness(t, slow, succeed(scenarioPosition()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.orch.FetchUserPositions(ctx, aaveQuery())
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation should be prompt")
	}
	if h.subgraph.calls.Load() != 0 {
		t.Error("no fallback after cancellation")
	}
}

func TestScenarioWritesThrough(t *testing.T) {
	cache := memory.NewResultCache(time.Minute)
	onChain := fail(domain.Transient(context.DeadlineExceeded))
	h := newHarness(t, onChain, succeed(scenarioPosition()), cache)
	h.orch.cfg.Retry.MaxAttempts = 2

	got, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	if err != nil {
		t.Fatalf("FetchUserPositions: %v", err)
	}
	if len(got) != 1 || got[0].HealthFactor != "2.0" {
		t.Errorf("got %+v", got)
	}
	if n := onChain.calls.Load(); n != 2 {
		t.Errorf("on-chain attempts = %d, want 2", n)
	}

	cached, ok, _ := cache.Get(context.Background(), "aave:ethereum:0xabc:fetchuserpositions")
	if !ok || len(cached) != 1 || *cached[0].Collateral != "1000" {
		t.Errorf("cache = %+v, %v", cached, ok)
	}
}

func TestCacheWriteFailureIsIgnored(t *testing.T) {
	h := newHarness(t, succeed(scenarioPosition()), nil, failingCache{})

	got, err := h.orch.FetchUserPositions(context.Background(), aaveQuery())
	if err != nil || len(got) != 1 {
		t.Fatalf("FetchUserPositions = %v, %v", got, err)
	}
}
