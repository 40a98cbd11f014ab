package oauth

import (
	"sort"
	"sync"
)

// registry implements ProviderRegistry with thread-safe provider management.
type registry struct {
	mu        sync.RWMutex
	providers map[string]AuthProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() ProviderRegistry {
	return &registry{
		providers: make(map[string]AuthProvider),
	}
}

// Register adds provider under its Name, replacing any provider already
// registered with that name.
func (r *registry) Register(provider AuthProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name.
func (r *registry) Get(name string) (AuthProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns registered provider names in sorted order.
func (r *registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
