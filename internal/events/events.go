// Package events is a small per-owner publish/subscribe registry. Each engine
// and coordinator owns its own Registry; nothing is broadcast across owners.
package events

import (
	"sort"
	"sync"
)

// Kind tags a notification.
type Kind string

const (
	FrameChange     Kind = "frameChange"
	PlayStateChange Kind = "playStateChange"
	Ready           Kind = "ready"
	Error           Kind = "error"
	AvalancheChange Kind = "avalancheChange"
)

// Event is the payload delivered to handlers. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind         Kind
	SimulationID string
	Time         float64
	Frame        int
	IsPlaying    bool
	Err          error
}

// Handler receives events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

type entry struct {
	id Subscription
	h  Handler
}

// Registry maps event kinds to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	next     Subscription
	handlers map[Kind][]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]entry)}
}

// Subscribe registers h for kind. Handlers run in subscription order.
func (r *Registry) Subscribe(kind Kind, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[kind] = append(r.handlers[kind], entry{id: r.next, h: h})
	return r.next
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, list := range r.handlers {
		for i, e := range list {
			if e.id != id {
				continue
			}
			r.handlers[kind] = append(list[:i:i], list[i+1:]...)
			if len(r.handlers[kind]) == 0 {
				delete(r.handlers, kind)
			}
			return true
		}
	}
	return false
}

// Emit delivers e to every handler subscribed to e.Kind. The handler list is
// snapshotted first, so handlers may subscribe or unsubscribe while running.
func (r *Registry) Emit(e Event) {
	r.mu.RLock()
	list := append([]entry(nil), r.handlers[e.Kind]...)
	r.mu.RUnlock()
	for _, en := range list {
		en.h(e)
	}
}

// Count returns the number of handlers for kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Kinds lists the kinds with at least one handler, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Clear drops every handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Kind][]entry)
}
