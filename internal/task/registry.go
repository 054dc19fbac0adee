package task

import (
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
)

// Registry is the shim's lookup table of live instances, shared by
// the task and pod layers so a CRI sandbox's workload containers and
// its own sandbox task resolve through the same map.
type Registry[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: map[string]T{}}
}

// Add registers v under id. It returns errdefs.ErrAlreadyExists if id
// is already registered.
func (r *Registry[T]) Add(id string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; ok {
		return fmt.Errorf("instance %s: %w", id, errdefs.ErrAlreadyExists)
	}
	r.m[id] = v
	return nil
}

// Get returns the instance registered under id, or
// errdefs.ErrNotFound.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("instance %s: %w", id, errdefs.ErrNotFound)
	}
	return v, nil
}

// Remove deletes id from the registry. It is a no-op if id is not
// present.
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// List returns a snapshot of every registered instance.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	return out
}
