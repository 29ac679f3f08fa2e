package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks in-flight requests so shutdown can drain them
// and tear down streams that outlive the grace period. It maps request
// IDs to their cancel functions.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]context.CancelFunc),
	}
}

// Register adds an in-flight request to the registry. The cancel
// function is called if the request is torn down via Cancel or CancelAll.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cancel
}

// Remove removes a request from the registry without cancelling it.
// Called when a request completes normally.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Cancel cancels one in-flight request by ID. Returns true if the
// request was found and cancelled, false if the ID was not registered
// (already completed or never existed).
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[id]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, id)
	return true
}

// CancelAll cancels every registered request and empties the registry.
// Used at shutdown for streams still open after the drain grace period.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, cancel := range r.entries {
		cancel()
		delete(r.entries, id)
	}
	return n
}

// Count returns the number of requests currently in flight.
func (r *InFlightRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
