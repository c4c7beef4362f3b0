// Package ingest connects the live page to the broadcast server and decodes
// the messages it delivers.
package ingest

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// DefaultNamespace is the event namespace Laravel Echo prepends to event
// names that do not start with a dot.
const DefaultNamespace = `App\Events`

// Handler receives the decoded data of one broadcast event.
type Handler func(payload json.RawMessage)

// Channel is a subscription on the broadcast server.
type Channel interface {
	// Listen registers h for event. A leading dot means the name is used
	// verbatim, otherwise it is qualified with the namespace.
	Listen(event string, h Handler) Channel
}

// Broadcaster opens channel subscriptions.
type Broadcaster interface {
	Channel(name string) Channel
}

// FormatEventName resolves an Echo-style event name to its wire name.
func FormatEventName(namespace, event string) string {
	if strings.HasPrefix(event, ".") || strings.HasPrefix(event, `\`) {
		return event[1:]
	}
	if namespace == "" {
		return event
	}
	return namespace + `\` + strings.ReplaceAll(event, ".", `\`)
}

// router fans incoming events out to the handlers registered per channel.
type router struct {
	mu       sync.RWMutex
	handlers map[string]map[string][]Handler
}

func newRouter() *router {
	return &router{handlers: make(map[string]map[string][]Handler)}
}

func (r *router) add(channel, event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, ok := r.handlers[channel]
	if !ok {
		events = make(map[string][]Handler)
		r.handlers[channel] = events
	}
	events[event] = append(events[event], h)
}

func (r *router) channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *router) ensure(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[channel]; ok {
		return false
	}
	r.handlers[channel] = make(map[string][]Handler)
	return true
}

// dispatch delivers payload to every handler of (channel, event). A panicking
// handler is logged and does not affect the others.
func (r *router) dispatch(channel, event string, payload json.RawMessage) int {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[channel][event]...)
	r.mu.RUnlock()

	for _, h := range handlers {
		invoke(channel, event, h, payload)
	}
	return len(handlers)
}

func invoke(channel, event string, h Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("broadcast_handler_panic", "channel", channel, "event", event, "panic", rec)
		}
	}()
	h(payload)
}

// channelHandle is the Channel returned by the broadcasters in this package.
type channelHandle struct {
	name      string
	namespace string
	router    *router
}

func (c *channelHandle) Listen(event string, h Handler) Channel {
	c.router.add(c.name, FormatEventName(c.namespace, event), h)
	return c
}
