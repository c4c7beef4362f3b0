package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/florenceegi/livepage/internal/ingest"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/store"
)

// SubscriptionManager opens at most one broadcast channel per entity and
// per stats scope for the lifetime of the page session.
type SubscriptionManager struct {
	broadcaster ingest.Broadcaster
	tracker     *metrics.MetricsTracker

	mu     sync.Mutex
	prices map[store.EntityID]string
	stats  map[store.StatsScope]string
	warned bool
}

// NewSubscriptionManager creates a SubscriptionManager. A nil broadcaster
// disables live updates.
func NewSubscriptionManager(b ingest.Broadcaster, tracker *metrics.MetricsTracker) *SubscriptionManager {
	if tracker == nil {
		tracker = metrics.NewMetricsTracker()
	}
	return &SubscriptionManager{
		broadcaster: b,
		tracker:     tracker,
		prices:      make(map[store.EntityID]string),
		stats:       make(map[store.StatsScope]string),
	}
}

// SubscribePrice listens for price updates of id. It returns false when the
// entity is already subscribed or no transport is available.
func (m *SubscriptionManager) SubscribePrice(id store.EntityID, h ingest.Handler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prices[id]; ok || !m.available() {
		return false
	}

	name := store.PriceChannelName(id)
	m.broadcaster.Channel(name).Listen(store.PriceEvent, h)
	m.prices[id] = name
	m.tracker.IncrementSubscriptions(metrics.KindPrice)
	slog.Debug("channel_subscribed", "channel", name, "event", store.PriceEvent)
	return true
}

// SubscribeStats listens for snapshots of scope. It returns false when the
// scope is already subscribed or no transport is available.
func (m *SubscriptionManager) SubscribeStats(scope store.StatsScope, h ingest.Handler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stats[scope]; ok || !m.available() {
		return false
	}

	name := scope.ChannelName()
	m.broadcaster.Channel(name).Listen(store.StatsEvent, h)
	m.stats[scope] = name
	m.tracker.IncrementSubscriptions(metrics.KindStats)
	slog.Info("stats_channel_subscribed", "channel", name, "scope", scope)
	return true
}

// Channels returns every subscribed channel name, sorted.
func (m *SubscriptionManager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.prices)+len(m.stats))
	for _, n := range m.prices {
		names = append(names, n)
	}
	for _, n := range m.stats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// available must be called with mu held.
func (m *SubscriptionManager) available() bool {
	if m.broadcaster != nil {
		return true
	}
	if !m.warned {
		slog.Warn("broadcast_unavailable", "effect", "live updates disabled")
		m.warned = true
	}
	return false
}
