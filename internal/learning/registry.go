package learning

import (
	"sync"

	"github.com/kokistudios/sidecar/internal/store"
)

// Registry hands out one Coordinator per scope root. The MCP surface and
// the web surface must share a coordinator so an answer submitted in the
// browser wakes the blocked tool call without waiting for the poll. MCP
// calls resolve their scope per call, so the web side consults the registry
// rather than any single coordinator.
type Registry struct {
	mu      sync.Mutex
	coords  map[string]*Coordinator
	subs    map[int]chan Event
	nextSub int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		coords: make(map[string]*Coordinator),
		subs:   make(map[int]chan Event),
	}
}

// For returns the coordinator for the scope, creating it on first use.
// Events from every coordinator it creates feed the registry's subscribers.
func (r *Registry) For(scope *store.Store) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coords[scope.Root]; ok {
		return c
	}
	c := NewCoordinator(NewStorage(scope))
	r.coords[scope.Root] = c

	events, _ := c.Subscribe()
	go r.relay(events)
	return c
}

// All returns every coordinator opened through the registry.
func (r *Registry) All() []*Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Coordinator, 0, len(r.coords))
	for _, c := range r.coords {
		out = append(out, c)
	}
	return out
}

// Subscribe registers for session events across all scopes, current and
// future. The returned cancel func releases the subscription. Slow
// subscribers drop events rather than block transitions.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, 16)
	r.subs[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) relay(events <-chan Event) {
	for ev := range events {
		r.mu.Lock()
		for _, ch := range r.subs {
			select {
			case ch <- ev:
			default:
			}
		}
		r.mu.Unlock()
	}
}
