// Package registry tracks the active job for each stream identifier.
package registry

import (
	"sort"
	"sync"
)

// Registry maps stream identifiers to their active job. TryRegister is the
// only way in, so at most one job per identifier can be active at a time.
// Every operation is a single critical section and never blocks on I/O.
type Registry[J any] struct {
	mu   sync.Mutex
	jobs map[string]J
}

// New creates an empty Registry.
func New[J any]() *Registry[J] {
	return &Registry[J]{jobs: make(map[string]J)}
}

// TryRegister inserts job under id unless id is already taken.
func (r *Registry[J]) TryRegister(id string, job J) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return false
	}
	r.jobs[id] = job
	return true
}

// Get returns the job registered under id.
func (r *Registry[J]) Get(id string) (J, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove drops id. Removing an absent id is a no-op.
func (r *Registry[J]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// ListIDs returns the registered identifiers in sorted order.
func (r *Registry[J]) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered jobs.
func (r *Registry[J]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot returns a copy of the current mapping.
func (r *Registry[J]) Snapshot() map[string]J {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]J, len(r.jobs))
	for id, j := range r.jobs {
		out[id] = j
	}
	return out
}

// Clear removes every entry.
func (r *Registry[J]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.jobs)
}
