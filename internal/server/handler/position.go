package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/service"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	GetPositions(ctx context.Context, q domain.Query) (service.PositionResult, error)
	Refresh(ctx context.Context, q domain.Query) (service.PositionResult, error)
	InvalidateCache(ctx context.Context, q domain.Query) error
	HealthFactor(ctx context.Context, q domain.Query) (service.HealthReport, error)
	History(ctx context.Context, key domain.PositionKey, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves the position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type positionsResponse struct {
	Positions []domain.Position   `json:"positions"`
	Cache     service.CacheStatus `json:"cache"`
}

// GetPositions reads through the cache.
// GET /api/positions?protocol=AAVE&network=ethereum&address=0x...
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	h.servePositions(w, r, h.positions.GetPositions)
}

// RefreshPositions bypasses the cache.
// POST /api/positions/refresh?protocol=AAVE&network=ethereum&address=0x...
func (h *PositionHandler) RefreshPositions(w http.ResponseWriter, r *http.Request) {
	h.servePositions(w, r, h.positions.Refresh)
}

func (h *PositionHandler) servePositions(
	w http.ResponseWriter,
	r *http.Request,
	read func(context.Context, domain.Query) (service.PositionResult, error),
) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := read(r.Context(), q)
	if err != nil {
		logFailure(h.logger, r, "handler: read positions failed", err)
		writeError(w, err)
		return
	}
	positions := res.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	w.Header().Set("X-Cache", string(res.Cache))
	writeJSON(w, http.StatusOK, positionsResponse{Positions: positions, Cache: res.Cache})
}

// HealthFactor returns the health factor and its risk level.
// GET /api/positions/health-factor?protocol=AAVE&address=0x...
func (h *PositionHandler) HealthFactor(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := h.positions.HealthFactor(r.Context(), q)
	if err != nil {
		logFailure(h.logger, r, "handler: health factor failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// History lists stored snapshots, newest first.
// GET /api/positions/history?protocol=AAVE&address=0x...&since=...&until=...&limit=50
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, err)
		return
	}
	positions, err := h.positions.History(r.Context(), domain.PositionKey{
		Protocol:    q.Protocol,
		Network:     q.Network,
		UserAddress: q.UserAddress,
	}, opts)
	if err != nil {
		logFailure(h.logger, r, "handler: history failed", err)
		writeError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// InvalidateCache drops the cached result.
// DELETE /api/positions/cache?protocol=AAVE&address=0x...
func (h *PositionHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.positions.InvalidateCache(r.Context(), q); err != nil {
		logFailure(h.logger, r, "handler: invalidate cache failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
