package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// StrategySource exposes the static fallback configuration.
type StrategySource interface {
	Strategies() []domain.SourceStrategy
}

// AdapterSource lists the registered adapters.
type AdapterSource interface {
	Keys() []domain.AdapterKey
}

// StrategyHandler serves the read-only strategy view.
type StrategyHandler struct {
	strategies StrategySource
	adapters   AdapterSource
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(strategies StrategySource, adapters AdapterSource, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, adapters: adapters, logger: logger}
}

type adapterView struct {
	Protocol domain.Protocol   `json:"protocol"`
	Network  domain.Network    `json:"network"`
	Source   domain.SourceType `json:"source"`
}

// ListStrategies returns the configured strategies and registered adapters.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	keys := h.adapters.Keys()
	adapters := make([]adapterView, 0, len(keys))
	for _, k := range keys {
		adapters = append(adapters, adapterView{Protocol: k.Protocol, Network: k.Network, Source: k.Source})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": h.strategies.Strategies(),
		"adapters":   adapters,
	})
}
