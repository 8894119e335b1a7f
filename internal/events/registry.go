package events

import (
	"sort"
	"sync"
)

// Registry maps event types to their ordered handler lists.
// Lists are copy-on-write: a mutation installs a fresh slice, so a snapshot handed to a
// worker is never modified underneath it.
type Registry struct {
	handlers map[EventType][]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[EventType][]Handler),
	}
}

// Register appends h to the list for typ. Registering the same handler twice is a no-op.
// Reports whether the handler was added.
func (r *Registry) Register(typ EventType, h Handler) bool {
	if h == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[typ]
	for _, existing := range current {
		if sameHandler(existing, h) {
			return false
		}
	}

	next := make([]Handler, len(current), len(current)+1)
	copy(next, current)
	r.handlers[typ] = append(next, h)
	return true
}

// Unregister removes h from the list for typ. The entry for typ is dropped once its
// list is empty. Reports whether anything was removed.
func (r *Registry) Unregister(typ EventType, h Handler) bool {
	if h == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handlers[typ]
	if !ok {
		return false
	}

	next := make([]Handler, 0, len(current))
	removed := false
	for _, existing := range current {
		if !removed && sameHandler(existing, h) {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	if !removed {
		return false
	}

	if len(next) == 0 {
		delete(r.handlers, typ)
	} else {
		r.handlers[typ] = next
	}
	return true
}

// Handlers returns the current snapshot for typ, or nil when nothing is registered.
// Callers must not modify the returned slice.
func (r *Registry) Handlers(typ EventType) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handlers[typ]
}

// Has reports whether typ has at least one handler.
func (r *Registry) Has(typ EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[typ]
	return ok
}

// Types returns every event type with registered handlers, sorted.
func (r *Registry) Types() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]EventType, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
