// Package network implements the multi-network fan-out (C10): a keyed
// map of one component instance per protocolNetwork, per spec.md §4,
// Design Note §9 "Multi-network fan-out". Components C4..C9 are each
// instantiated once per protocolNetwork and looked up by that
// identifier; per-key operations fail if the requested key is absent,
// and registration rejects duplicate keys.
package network

import (
	"fmt"
	"sync"
)

// Registry is a keyed, concurrency-safe map from protocolNetwork to one
// component instance of type T.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewRegistry creates an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds the instance for protocolNetwork. It returns an error if
// an instance is already registered for that key.
func (r *Registry[T]) Register(protocolNetwork string, item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[protocolNetwork]; exists {
		return fmt.Errorf("network: duplicate registration for protocol network %q", protocolNetwork)
	}
	r.items[protocolNetwork] = item
	return nil
}

// Get returns the instance registered for protocolNetwork, or an error
// if none is registered.
func (r *Registry[T]) Get(protocolNetwork string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[protocolNetwork]
	if !ok {
		var zero T
		return zero, fmt.Errorf("network: no instance registered for protocol network %q", protocolNetwork)
	}
	return item, nil
}

// Networks returns every registered protocolNetwork key, in no
// particular order.
func (r *Registry[T]) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	return out
}

// ForEach invokes f once per registered instance. Iteration order is
// unspecified; f is called while the read lock is not held, so f may
// safely call back into the registry.
func (r *Registry[T]) ForEach(f func(protocolNetwork string, item T)) {
	r.mu.RLock()
	snapshot := make(map[string]T, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for k, v := range snapshot {
		f(k, v)
	}
}
