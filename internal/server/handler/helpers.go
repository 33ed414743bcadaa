package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","kind":"InternalError"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err onto an HTTP status and writes {"error","kind"}.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: domain.ErrorKind(err)})
}

func statusFor(err error) int {
	switch domain.ErrorKind(err) {
	case "ValidationError":
		return http.StatusBadRequest
	case "ConfigurationError":
		return http.StatusUnprocessableEntity
	case "AllSourcesFailedError":
		return http.StatusBadGateway
	case "CancelledError":
		return http.StatusGatewayTimeout
	case "NotFound":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// logFailure logs server-side errors only; client errors are in the access log.
func logFailure(logger *slog.Logger, r *http.Request, msg string, err error) {
	if statusFor(err) < http.StatusInternalServerError {
		return
	}
	logger.ErrorContext(r.Context(), msg,
		slog.String("kind", domain.ErrorKind(err)),
		slog.String("error", err.Error()),
	)
}

// parseQuery reads protocol, network, address, from and to. Bad integers are
// validation errors; the rest is checked by the service.
func parseQuery(r *http.Request) (domain.Query, error) {
	v := r.URL.Query()
	q := domain.Query{
		Protocol:    domain.Protocol(strings.TrimSpace(v.Get("protocol"))),
		Network:     domain.Network(strings.TrimSpace(v.Get("network"))),
		UserAddress: strings.TrimSpace(v.Get("address")),
	}
	if q.Network == "" {
		q.Network = domain.NetworkEthereum
	}

	var err error
	if q.From, err = optionalInt64(v.Get("from"), "from"); err != nil {
		return domain.Query{}, err
	}
	if q.To, err = optionalInt64(v.Get("to"), "to"); err != nil {
		return domain.Query{}, err
	}
	return q, nil
}

func optionalInt64(raw, name string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be unix seconds, got %q", domain.ErrValidation, name, raw)
	}
	return &n, nil
}

// parseListOpts extracts pagination and the since/until window. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	v := r.URL.Query()

	limit := 50
	if s := v.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if s := v.Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		secs, err := optionalInt64(v.Get(p.name), p.name)
		if err != nil {
			return domain.ListOpts{}, err
		}
		if secs != nil {
			t := time.Unix(*secs, 0).UTC()
			*p.dst = &t
		}
	}
	return opts, nil
}
