package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/server/handler"
	"github.com/alanyoungcy/lendwatch/internal/server/ws"
	"github.com/alanyoungcy/lendwatch/internal/service"
	"github.com/alanyoungcy/lendwatch/internal/strategy"
)

type stubPositions struct {
	result  service.PositionResult
	err     error
	lastQ   domain.Query
	history []domain.Position
}

func (s *stubPositions) GetPositions(_ context.Context, q domain.Query) (service.PositionResult, error) {
	s.lastQ = q
	return s.result, s.err
}

func (s *stubPositions) Refresh(_ context.Context, q domain.Query) (service.PositionResult, error) {
	s.lastQ = q
	res := s.result
	res.Cache = service.CacheBypass
	return res, s.err
}

func (s *stubPositions) InvalidateCache(_ context.Context, q domain.Query) error {
	s.lastQ = q
	return s.err
}

func (s *stubPositions) HealthFactor(_ context.Context, q domain.Query) (service.HealthReport, error) {
	s.lastQ = q
	if s.err != nil {
		return service.HealthReport{}, s.err
	}
	return service.HealthReport{HealthFactor: "1.05", RiskLevel: domain.RiskDanger}, nil
}

func (s *stubPositions) History(context.Context, domain.PositionKey, domain.ListOpts) ([]domain.Position, error) {
	return s.history, s.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                             { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, svc *stubPositions, cfg Config, hub *ws.Hub, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	resolver, err := strategy.NewResolver(strategy.Defaults())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	logger := discardLogger()
	handlers := Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Positions:  handler.NewPositionHandler(svc, logger),
		Strategies: handler.NewStrategyHandler(resolver, strategy.NewRegistry(), logger),
	}
	return NewHandler(cfg, handlers, hub, limiter, logger)
}

func samplePosition() domain.Position {
	return domain.Position{
		Protocol:       domain.ProtocolAave,
		Network:        domain.NetworkEthereum,
		UserAddress:    "0xabc",
		Collateral:     domain.StringPtr("1000"),
		Debt:           domain.StringPtr("500"),
		HealthFactor:   "2",
		BorrowedAssets: []domain.BorrowedAsset{},
		Timestamp:      1700000000,
	}
}

func TestGetPositions(t *testing.T) {
	svc := &stubPositions{result: service.PositionResult{
		Positions: []domain.Position{samplePosition()},
		Cache:     service.CacheHit,
	}}
	h := newTestHandler(t, svc, Config{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/positions?protocol=AAVE&address=0xabc&from=10&to=20", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Cache") != "hit" {
		t.Errorf("X-Cache = %q", rec.Header().Get("X-Cache"))
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	var body struct {
		Positions []domain.Position `json:"positions"`
		Cache     string            `json:"cache"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Positions) != 1 || *body.Positions[0].Debt != "500" {
		t.Errorf("body = %+v", body)
	}
	if svc.lastQ.Network != domain.NetworkEthereum || *svc.lastQ.From != 10 || *svc.lastQ.To != 20 {
		t.Errorf("query = %+v", svc.lastQ)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("%w: address required", domain.ErrValidation), http.StatusBadRequest, "ValidationError"},
		{fmt.Errorf("%w: no strategy", domain.ErrConfiguration), http.StatusUnprocessableEntity, "ConfigurationError"},
		{&domain.AllSourcesFailedError{Protocol: domain.ProtocolAave}, http.StatusBadGateway, "AllSourcesFailedError"},
		{domain.Cancelled(context.DeadlineExceeded), http.StatusGatewayTimeout, "CancelledError"},
		{fmt.Errorf("%w: none", domain.ErrNotFound), http.StatusNotFound, "NotFound"},
		{errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h := newTestHandler(t, &stubPositions{err: tt.err}, Config{}, nil, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?protocol=AAVE&address=0xabc", nil))

			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			var body map[string]string
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body["kind"] != tt.kind || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestBadTimestampIsValidationError(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{}, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?protocol=AAVE&address=0xabc&from=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRefreshAndInvalidate(t *testing.T) {
	svc := &stubPositions{result: service.PositionResult{Positions: nil}}
	h := newTestHandler(t, svc, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/positions/refresh?protocol=AAVE&address=0xabc", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "bypass" {
		t.Errorf("refresh: status = %d, X-Cache = %q", rec.Code, rec.Header().Get("X-Cache"))
	}
	if !strings.Contains(rec.Body.String(), `"positions":[]`) {
		t.Errorf("refresh body = %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/positions/cache?protocol=AAVE&address=0xabc", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("invalidate: status = %d", rec.Code)
	}
}

func TestHealthFactorAndHistory(t *testing.T) {
	svc := &stubPositions{history: []domain.Position{samplePosition(), samplePosition()}}
	h := newTestHandler(t, svc, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/health-factor?protocol=AAVE&address=0xabc", nil))
	if !strings.Contains(rec.Body.String(), `"riskLevel":"danger"`) {
		t.Errorf("health-factor body = %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history?protocol=AAVE&address=0xabc&since=1&until=2&limit=10", nil))
	var body struct {
		Positions []domain.Position `json:"positions"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusOK || len(body.Positions) != 2 {
		t.Errorf("history: status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{}, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ON_CHAIN"`) {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestAuth(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{APIKey: "secret"}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health should be public, status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{RateLimit: 1, RateWindow: time.Minute}, nil, denyAll{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Errorf("status = %d, Retry-After = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{CORSOrigins: []string{"https://app.example"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("status = %d, headers = %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be echoed")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubPositions{}, Config{}, nil, nil)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/strategies", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "lendwatch_http_requests_total") {
		t.Error("metrics output missing lendwatch_http_requests_total")
	}
}

func TestWebsocketStream(t *testing.T) {
	hub := ws.NewHub(nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(newTestHandler(t, &stubPositions{}, Config{}, hub, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=positions:aave:ethereum:*"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, hello, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(hello), `"hello"`) {
		t.Fatalf("hello = %s, %v", hello, err)
	}

	hub.Publish([]byte(`{"type":"positions","protocol":"SILO","network":"arbitrum","userAddress":"0x1"}`))
	hub.Publish([]byte(`{"type":"positions","protocol":"AAVE","network":"ethereum","userAddress":"0xabc"}`))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"AAVE"`) {
		t.Errorf("received %s, want only the subscribed topic", msg)
	}
}
