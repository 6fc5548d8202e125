package providers

import "sync"

// Registry manages stream factories for lookup by provider name.
// Lookup is case-insensitive. The registry is read-mostly: adapters are
// usually registered at startup, but registering while calls are in
// flight is safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StreamFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StreamFactory)}
}

// Register adds a factory under the given provider name, replacing any
// previous registration for that name.
func (r *Registry) Register(name string, f StreamFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[NormalizeName(name)] = f
}

// Get returns the factory registered for name and whether it was found.
func (r *Registry) Get(name string) (StreamFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[NormalizeName(name)]
	return f, ok
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
