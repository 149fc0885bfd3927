// Package registry maps connection IDs to transport handles and back.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyRegistered is returned when an ID or handle is registered twice.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry is a bidirectional connection ID <-> handle map. Both
// directions are updated under one lock, so a lookup never observes a
// half-registered or half-removed connection.
//
// H is usually an interface whose implementations are pointers; handles
// are compared by identity.
type Registry[H comparable] struct {
	mu     sync.RWMutex
	byID   map[string]H
	byConn map[H]string
}

// New creates an empty registry.
func New[H comparable]() *Registry[H] {
	return &Registry[H]{
		byID:   make(map[string]H),
		byConn: make(map[H]string),
	}
}

// Register associates id and handle.
func (r *Registry[H]) Register(handle H, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.byConn[handle]; ok {
		return ErrAlreadyRegistered
	}

	r.byID[id] = handle
	r.byConn[handle] = id
	return nil
}

// Unregister removes handle and returns the ID it was registered under.
func (r *Registry[H]) Unregister(handle H) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[handle]
	if !ok {
		return "", false
	}
	delete(r.byConn, handle)
	delete(r.byID, id)
	return id, true
}

// Lookup returns the handle registered under id.
func (r *Registry[H]) Lookup(id string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byID[id]
	return h, ok
}

// ID returns the ID handle is registered under.
func (r *Registry[H]) ID(handle H) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byConn[handle]
	return id, ok
}

// Len returns the number of registered connections.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IDs returns the registered IDs in sorted order.
func (r *Registry[H]) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
