// Package strategy resolves which data sources to try for a protocol/network
// pair and in which order, and holds the adapter registered for each source.
package strategy

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

type pairKey struct {
	protocol domain.Protocol
	network  domain.Network
}

// Resolver is an immutable lookup over the configured fallback strategies.
type Resolver struct {
	order      []pairKey
	strategies map[pairKey][]domain.SourceConfig
}

// NewResolver copies strategies into a Resolver. It rejects unknown
// protocols, networks and source types, and duplicate pairs.
func NewResolver(strategies []domain.SourceStrategy) (*Resolver, error) {
	r := &Resolver{strategies: make(map[pairKey][]domain.SourceConfig, len(strategies))}
	for _, s := range strategies {
		p, ok := domain.ParseProtocol(string(s.Protocol))
		if !ok {
			return nil, fmt.Errorf("strategy: unknown protocol %q: %w", s.Protocol, domain.ErrConfiguration)
		}
		n, ok := domain.ParseNetwork(string(s.Network))
		if !ok {
			return nil, fmt.Errorf("strategy: unknown network %q: %w", s.Network, domain.ErrConfiguration)
		}
		k := pairKey{protocol: p, network: n}
		if _, dup := r.strategies[k]; dup {
			return nil, fmt.Errorf("strategy: duplicate strategy for %s/%s: %w", p, n, domain.ErrConfiguration)
		}

		sources := make([]domain.SourceConfig, 0, len(s.Sources))
		for _, src := range s.Sources {
			st, ok := domain.ParseSourceType(string(src.Type))
			if !ok {
				return nil, fmt.Errorf("strategy: %s/%s: unknown source type %q: %w", p, n, src.Type, domain.ErrConfiguration)
			}
			src.Type = st
			sources = append(sources, src)
		}
		r.strategies[k] = sources
		r.order = append(r.order, k)
	}
	return r, nil
}

// Resolve returns the enabled source types for the pair, ordered by ascending
// priority. Equal priorities keep their configuration order. A pair with no
// strategy yields an error wrapping domain.ErrConfiguration.
func (r *Resolver) Resolve(protocol domain.Protocol, network domain.Network) ([]domain.SourceType, error) {
	sources, ok := r.strategies[pairKey{protocol: protocol, network: network}]
	if !ok {
		return nil, fmt.Errorf("%w: no source strategy for %s/%s", domain.ErrConfiguration, protocol, network)
	}

	enabled := make([]domain.SourceConfig, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	out := make([]domain.SourceType, len(enabled))
	for i, s := range enabled {
		out[i] = s.Type
	}
	return out, nil
}

// Strategies returns a copy of every configured strategy in configuration
// order.
func (r *Resolver) Strategies() []domain.SourceStrategy {
	out := make([]domain.SourceStrategy, 0, len(r.order))
	for _, k := range r.order {
		sources := make([]domain.SourceConfig, len(r.strategies[k]))
		copy(sources, r.strategies[k])
		out = append(out, domain.SourceStrategy{Protocol: k.protocol, Network: k.network, Sources: sources})
	}
	return out
}

// Defaults returns the built-in strategies: AAVE on Ethereum reads the chain
// first and falls back to the subgraph.
func Defaults() []domain.SourceStrategy {
	return []domain.SourceStrategy{
		{
			Protocol: domain.ProtocolAave,
			Network:  domain.NetworkEthereum,
			Sources: []domain.SourceConfig{
				{Type: domain.SourceOnChain, Priority: 1, Enabled: true},
				{Type: domain.SourceSubgraph, Priority: 2, Enabled: true},
			},
		},
	}
}
