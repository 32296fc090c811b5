package core

import "sync"

// Registry is a lock-protected, ordered set of interfaces shared between
// the transport layer and every connection goroutine.
type Registry struct {
	mu    sync.RWMutex
	items []Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make([]Interface, 0)}
}

// Append adds an interface to the registry.
func (r *Registry) Append(i Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, i)
}

// Remove removes the first occurrence of i. It reports whether i was
// present, so concurrent removals of the same interface succeed only once.
func (r *Registry) Remove(i Interface) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, it := range r.items {
		if it == i {
			r.items = append(r.items[:idx], r.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether i is registered.
func (r *Registry) Contains(i Interface) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it == i {
			return true
		}
	}
	return false
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Snapshot returns a copy of the registered interfaces.
func (r *Registry) Snapshot() []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Interface, len(r.items))
	copy(out, r.items)
	return out
}
