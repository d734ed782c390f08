package timeservice

import (
	"sort"
	"sync"
)

// CacheRegistry holds the invalidation callbacks of caches that depend on
// simulation time.
type CacheRegistry struct {
	mu      sync.Mutex
	caches  map[string]func()
	cleared uint64
}

// NewCacheRegistry creates an empty registry.
func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{caches: make(map[string]func())}
}

// Register adds a cache. Registering a name again replaces its callback.
func (r *CacheRegistry) Register(name string, clear func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.caches[name] = clear
}

// Unregister removes a cache.
func (r *CacheRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.caches, name)
}

// Names lists the registered caches in name order.
func (r *CacheRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ClearAll invalidates every registered cache, in name order.
func (r *CacheRegistry) ClearAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)

	callbacks := make([]func(), 0, len(names))
	for _, name := range names {
		callbacks = append(callbacks, r.caches[name])
	}
	r.cleared++
	r.mu.Unlock()

	for _, clear := range callbacks {
		clear()
	}
}

// Cleared returns how many times ClearAll has run.
func (r *CacheRegistry) Cleared() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cleared
}
