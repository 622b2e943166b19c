package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gtzirun/cloud/internal/streamkey"
)

type entry struct {
	// op serializes whole supervisor operations on this key.
	// Lock order: op, then Registry.mu.
	op chan struct{}

	destination string
	hasDest     bool
	handle      Handle
}

// Registry is the single source of truth for stream keys, their
// destinations and their attached relay handles.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	newKey  streamkey.Generator
}

func NewRegistry(gen streamkey.Generator) *Registry {
	if gen == nil {
		gen = streamkey.New
	}
	return &Registry{entries: make(map[string]*entry), newKey: gen}
}

// Create inserts a new entry with no destination and no handle.
func (r *Registry) Create() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		key := r.newKey()
		if _, exists := r.entries[key]; exists {
			continue
		}
		r.entries[key] = &entry{op: make(chan struct{}, 1)}
		return key
	}
}

func (r *Registry) SetDestination(key, dest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	e.destination = dest
	e.hasDest = true
	return nil
}

func (r *Registry) Destination(key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok || !e.hasDest {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e.destination, nil
}

// AttachHandle enforces at most one handle per key, and only for keys
// with a destination.
func (r *Registry) AttachHandle(key string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || !e.hasDest {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if e.handle != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	e.handle = h
	return nil
}

// DetachHandle removes the handle and hands its teardown to the caller.
func (r *Registry) DetachHandle(key string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	h := e.handle
	e.handle = nil
	return h, nil
}

func (r *Registry) HasHandle(key string) bool {
	_, ok := r.Handle(key)
	return ok
}

// Handle peeks at the attached handle without transferring ownership.
func (r *Registry) Handle(key string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

func (r *Registry) Exists(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Keys returns a sorted snapshot of every stream key.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Running counts attached handles.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.handle != nil {
			n++
		}
	}
	return n
}

// PIDs maps stream key to the PID of its attached handle.
func (r *Registry) PIDs() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for k, e := range r.entries {
		if e.handle != nil {
			out[k] = e.handle.PID()
		}
	}
	return out
}

// lock acquires the per-key operation lock, waiting at most until ctx is done.
func (r *Registry) lock(ctx context.Context, key string) (func(), error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	// a free lock wins over an expired ctx
	select {
	case e.op <- struct{}{}:
		return func() { <-e.op }, nil
	default:
	}
	select {
	case e.op <- struct{}{}:
		return func() { <-e.op }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
