package provider

import (
	"fmt"
	"sort"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/port"
)

// Registry is the static dispatch table from provider id to adapter. It is
// built once at startup and read-only afterwards.
type Registry struct {
	adapters map[domain.ProviderID]port.Adapter
}

// NewRegistry registers adapters by their provider id. Registering the
// same provider twice is a programming error and panics.
func NewRegistry(adapters ...port.Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderID]port.Adapter, len(adapters))}
	for _, a := range adapters {
		id := a.Provider()
		if _, dup := r.adapters[id]; dup {
			panic(fmt.Sprintf("provider %q registered twice", id))
		}
		r.adapters[id] = a
	}
	return r
}

// Resolve returns the adapter for provider.
func (r *Registry) Resolve(provider domain.ProviderID) (port.Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Providers lists registered provider ids in sorted order.
func (r *Registry) Providers() []domain.ProviderID {
	ids := make([]domain.ProviderID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
