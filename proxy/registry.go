package proxy

import (
	"sync"

	"github.com/wippyai/bean-runtime/descriptor"
)

// EventType identifies a registry event.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventInvalidated
)

// Event describes a change to a registered handler.
type Event struct {
	Handler *Handler
	Key     Key
	Type    EventType
}

// Observer receives registry events.
type Observer interface {
	OnProxyEvent(e Event)
}

// Registry tracks the live handlers of every component object. Invalidation
// may race with dispatch on other goroutines.
type Registry struct {
	handlers  map[Key]map[*Handler]struct{}
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key]map[*Handler]struct{})}
}

// NewHandler creates and registers a handler for key on the interface
// described by table.
func (r *Registry) NewHandler(backend Backend, desc *descriptor.Component, table *Table, key Key) *Handler {
	h := newHandler(backend, desc, table, key)
	h.registry = r
	r.Register(h)
	return h
}

// Register adds h under its key.
func (r *Registry) Register(h *Handler) {
	r.mu.Lock()
	set, ok := r.handlers[h.key]
	if !ok {
		set = make(map[*Handler]struct{})
		r.handlers[h.key] = set
	}
	set[h] = struct{}{}
	r.mu.Unlock()

	r.notify(Event{Type: EventRegistered, Key: h.key, Handler: h})
}

// Unregister removes h.
func (r *Registry) Unregister(h *Handler) {
	r.mu.Lock()
	set, ok := r.handlers[h.key]
	if ok {
		if _, found := set[h]; !found {
			ok = false
		}
		delete(set, h)
		if len(set) == 0 {
			delete(r.handlers, h.key)
		}
	}
	r.mu.Unlock()

	if ok {
		r.notify(Event{Type: EventUnregistered, Key: h.key, Handler: h})
	}
}

// Handlers returns the handlers registered under key.
func (r *Registry) Handlers(key Key) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.handlers[key]
	out := make([]*Handler, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// InvalidateAll invalidates and unregisters every handler under key and
// returns how many were invalidated.
func (r *Registry) InvalidateAll(key Key) int {
	r.mu.Lock()
	set := r.handlers[key]
	delete(r.handlers, key)
	r.mu.Unlock()

	n := 0
	for h := range set {
		if h.Invalidate() {
			n++
			r.notify(Event{Type: EventInvalidated, Key: key, Handler: h})
		}
	}
	return n
}

// InvalidateDeployment invalidates every handler of the deployment id.
func (r *Registry) InvalidateDeployment(id string) int {
	r.mu.RLock()
	var keys []Key
	for k := range r.handlers {
		if k.Deployment == id {
			keys = append(keys, k)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, k := range keys {
		n += r.InvalidateAll(k)
	}
	return n
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.handlers {
		n += len(set)
	}
	return n
}

// Subscribe adds an observer for registry events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnProxyEvent(e)
	}
}
