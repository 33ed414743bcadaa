package domain

import (
	"context"
	"fmt"
	"strings"
)

// SourceType names one alternative way of fetching the same position data.
type SourceType string

const (
	SourceOnChain  SourceType = "ON_CHAIN"
	SourceSubgraph SourceType = "SUBGRAPH"
)

// ParseSourceType resolves a source type case-insensitively.
func ParseSourceType(s string) (SourceType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SourceOnChain):
		return SourceOnChain, true
	case string(SourceSubgraph):
		return SourceSubgraph, true
	default:
		return "", false
	}
}

// SourceConfig is one entry of a fallback strategy. Lower priorities are
// tried first; disabled entries are never attempted.
type SourceConfig struct {
	Type     SourceType `json:"type"`
	Priority int        `json:"priority"`
	Enabled  bool       `json:"enabled"`
}

// SourceStrategy is the static fallback configuration for one
// protocol/network pair.
type SourceStrategy struct {
	Protocol Protocol       `json:"protocol"`
	Network  Network        `json:"network"`
	Sources  []SourceConfig `json:"sources"`
}

// Query describes one position fetch request. From and To are optional unix
// second bounds echoed back on the resulting positions.
type Query struct {
	Protocol    Protocol
	Network     Network
	UserAddress string
	From        *int64
	To          *int64
	Filters     map[string]string
}

// Normalized returns a copy of q with canonical protocol, network and address
// spelling. Unknown protocol or network names are left untouched.
func (q Query) Normalized() Query {
	out := q
	if p, ok := ParseProtocol(string(q.Protocol)); ok {
		out.Protocol = p
	}
	if n, ok := ParseNetwork(string(q.Network)); ok {
		out.Network = n
	}
	out.UserAddress = strings.ToLower(strings.TrimSpace(q.UserAddress))
	return out
}

// Validate checks the caller-supplied fields. Every failure wraps
// ErrValidation.
func (q Query) Validate() error {
	if strings.TrimSpace(q.UserAddress) == "" {
		return fmt.Errorf("%w: user address is required", ErrValidation)
	}
	if !q.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrValidation, q.Protocol)
	}
	if !q.Network.Valid() {
		return fmt.Errorf("%w: unknown network %q", ErrValidation, q.Network)
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return fmt.Errorf("%w: from (%d) is after to (%d)", ErrValidation, *q.From, *q.To)
	}
	return nil
}

// CacheKey derives the result-cache key for this query and method.
func (q Query) CacheKey(method string) string {
	return CacheKey(q.Protocol, q.Network, q.UserAddress, method)
}

// MethodFetchUserPositions is the method component of cache keys written by
// the fetch orchestrator.
const MethodFetchUserPositions = "fetchUserPositions"

// CacheKey joins the logical inputs of a fetch into a lowercase,
// colon-separated key.
func CacheKey(protocol Protocol, network Network, address, method string) string {
	return strings.ToLower(strings.Join([]string{
		string(protocol), string(network), address, method,
	}, ":"))
}

// SourceAdapter produces normalized positions from one data source.
// Implementations classify their failures with the sentinel errors in this
// package.
type SourceAdapter interface {
	Fetch(ctx context.Context, q Query) ([]Position, error)
}

// AdapterKey addresses one entry of the adapter capability table.
type AdapterKey struct {
	Protocol Protocol
	Network  Network
	Source   SourceType
}
