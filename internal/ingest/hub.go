package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Hub is an in-process Broadcaster. It backs tests and offline replays where
// no broadcast server is reachable.
type Hub struct {
	namespace string
	router    *router

	mu    sync.Mutex
	opens map[string]int
}

// NewHub creates a Hub using the default Echo namespace.
func NewHub() *Hub {
	return &Hub{
		namespace: DefaultNamespace,
		router:    newRouter(),
		opens:     make(map[string]int),
	}
}

// Channel implements Broadcaster.
func (h *Hub) Channel(name string) Channel {
	h.mu.Lock()
	h.opens[name]++
	h.mu.Unlock()

	h.router.ensure(name)
	return &channelHandle{name: name, namespace: h.namespace, router: h.router}
}

// Publish delivers payload to the listeners of (channel, event). event is the
// wire name, e.g. "price.updated". It returns the number of handlers invoked.
func (h *Hub) Publish(channel, event string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}
	return h.router.dispatch(channel, event, data), nil
}

// Opens returns how many times a channel was opened.
func (h *Hub) Opens(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens[name]
}

// Channels returns every channel opened so far.
func (h *Hub) Channels() []string {
	return h.router.channels()
}
