package attendant

import (
	"sync"
	"sync/atomic"

	"github.com/louros-pizzaria/cardapio-digital-sub002/feed"
)

// Listener receives change events for one resource type
type Listener func(feed.ChangeEvent)

// Hub fans change events out to listeners registered per resource type.
// Thread-safe; the cancel func returned by Subscribe is idempotent.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]Listener
	nextID    atomic.Uint64
}

// NewHub creates an empty listener hub
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Subscribe registers a listener for a resource type and returns its cancel func
func (h *Hub) Subscribe(resource string, l Listener) func() {
	id := h.nextID.Add(1)

	h.mu.Lock()
	if h.listeners[resource] == nil {
		h.listeners[resource] = make(map[uint64]Listener)
	}
	h.listeners[resource][id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[resource], id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers an event to every listener of its resource type
func (h *Hub) Publish(e feed.ChangeEvent) {
	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.listeners[e.Resource]))
	for _, l := range h.listeners[e.Resource] {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}

// ListenerCount returns the number of listeners for a resource type
func (h *Hub) ListenerCount(resource string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[resource])
}
