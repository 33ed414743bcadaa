package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// Registry is the adapter capability table, keyed by protocol, network and
// source type. It is filled once at startup and read concurrently afterwards.
type Registry struct {
	adapters map[domain.AdapterKey]domain.SourceAdapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.AdapterKey]domain.SourceAdapter)}
}

// Register installs adapter under key, replacing any previous entry.
func (r *Registry) Register(key domain.AdapterKey, adapter domain.SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[key] = adapter
}

// Adapter returns the adapter for key. A missing entry is a configuration
// error.
func (r *Registry) Adapter(key domain.AdapterKey) (domain.SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: no %s adapter registered for %s/%s",
			domain.ErrConfiguration, key.Source, key.Protocol, key.Network)
	}
	return a, nil
}

// Keys lists the registered keys in a stable order.
func (r *Registry) Keys() []domain.AdapterKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]domain.AdapterKey, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		return a.Source < b.Source
	})
	return keys
}
