// Package metrics provides real-time metrics tracking for the live page.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/florenceegi/livepage/internal/store"
)

// Event kinds.
const (
	KindPrice = "price"
	KindStats = "stats"
)

// Drop reasons.
const (
	DropOffscreen = "offscreen"
	DropMissing   = "missing"
	DropInvalid   = "invalid"
)

const (
	recentEventsCap  = 100
	recentNoticesCap = 20
	rateWindow       = 60 * time.Second
	activityTTL      = 60 * time.Minute
)

// EntityActivity tracks reconciliation activity for a single entity.
type EntityActivity struct {
	EntityID   store.EntityID
	PriceText  string
	Updates    int
	Elements   int
	LastUpdate time.Time
}

// ScopeActivity tracks stats updates for one scope.
type ScopeActivity struct {
	Scope         string
	Updates       int
	FieldsChanged int
	LastUpdate    time.Time
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	EventsTotal     int64
	EventsByKind    map[string]int64
	CoalescedByKind map[string]int64
	DroppedByReason map[string]int64
	Patches         int64
	Reloads         int64
	StatsApplied    int64
	EventRate       float64 // events per second
	Entities        []EntityActivity
	Scopes          []ScopeActivity
	RecentEvents    []store.Event
	RecentNotices   []store.Notice
	Subscriptions   int
	Uptime          time.Duration
	WebSocketStatus string
	LastEventAt     time.Time
	PendingTimers   int
}

// MetricsTracker provides thread-safe metrics tracking. Every counter is
// mirrored to the Prometheus collectors in this package.
type MetricsTracker struct {
	mu              sync.RWMutex
	eventsTotal     int64
	eventsByKind    map[string]int64
	coalescedByKind map[string]int64
	droppedByReason map[string]int64
	patches         int64
	reloads         int64
	statsApplied    int64
	entities        map[store.EntityID]*EntityActivity
	scopes          map[string]*ScopeActivity
	recentEvents    []store.Event
	recentNotices   []store.Notice
	eventTimestamps []time.Time // for rate calculation
	subscriptions   int
	startTime       time.Time
	lastEventTime   time.Time
	wsStatus        string
	pending         func() int
}

// NewMetricsTracker creates a new MetricsTracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		eventsByKind:    make(map[string]int64),
		coalescedByKind: make(map[string]int64),
		droppedByReason: make(map[string]int64),
		entities:        make(map[store.EntityID]*EntityActivity),
		scopes:          make(map[string]*ScopeActivity),
		eventTimestamps: make([]time.Time, 0, 1000),
		startTime:       time.Now(),
		wsStatus:        "disconnected",
	}
}

// RecordEvent counts a received broadcast and keeps it in the recent feed.
func (m *MetricsTracker) RecordEvent(kind string, ev store.Event) {
	eventsTotal.WithLabelValues(kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventsTotal++
	m.eventsByKind[kind]++
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	m.lastEventTime = ev.ReceivedAt

	m.eventTimestamps = append(m.eventTimestamps, ev.ReceivedAt)
	m.eventTimestamps = pruneBefore(m.eventTimestamps, ev.ReceivedAt.Add(-rateWindow))

	m.recentEvents = append(m.recentEvents, ev)
	if len(m.recentEvents) > recentEventsCap {
		m.recentEvents = m.recentEvents[len(m.recentEvents)-recentEventsCap:]
	}
}

// IncrementCoalesced counts an event absorbed by an already armed timer.
func (m *MetricsTracker) IncrementCoalesced(kind string) {
	coalescedTotal.WithLabelValues(kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalescedByKind[kind]++
}

// IncrementDropped counts an event that produced no DOM write.
func (m *MetricsTracker) IncrementDropped(kind, reason string) {
	droppedTotal.WithLabelValues(kind, reason).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedByReason[reason]++
}

// RecordPatch records an in-place price patch across elements replicas.
func (m *MetricsTracker) RecordPatch(id store.EntityID, priceText string, elements int) {
	patchesTotal.Inc()
	patchedElements.Observe(float64(elements))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.patches++
	activity, exists := m.entities[id]
	if !exists {
		activity = &EntityActivity{EntityID: id}
		m.entities[id] = activity
	}
	activity.PriceText = priceText
	activity.Updates++
	activity.Elements = elements
	activity.LastUpdate = time.Now()
}

// IncrementReloads counts a reload branch decision.
func (m *MetricsTracker) IncrementReloads() {
	reloadsTotal.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

// RecordStats records a stats snapshot applied to a scope.
func (m *MetricsTracker) RecordStats(scope string, fieldsChanged int) {
	statsFieldsChanged.WithLabelValues(scope).Add(float64(fieldsChanged))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statsApplied++
	activity, exists := m.scopes[scope]
	if !exists {
		activity = &ScopeActivity{Scope: scope}
		m.scopes[scope] = activity
	}
	activity.Updates++
	activity.FieldsChanged += fieldsChanged
	activity.LastUpdate = time.Now()
}

// RecordNotice keeps a raised notice for the monitor.
func (m *MetricsTracker) RecordNotice(n store.Notice) {
	noticesTotal.WithLabelValues(n.Kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.recentNotices = append(m.recentNotices, n)
	if len(m.recentNotices) > recentNoticesCap {
		m.recentNotices = m.recentNotices[len(m.recentNotices)-recentNoticesCap:]
	}
}

// IncrementSubscriptions counts an opened broadcast channel.
func (m *MetricsTracker) IncrementSubscriptions(kind string) {
	subscriptionsGauge.WithLabelValues(kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions++
}

// SetWebSocketStatus sets the WebSocket connection status.
func (m *MetricsTracker) SetWebSocketStatus(status string) {
	if status == "connected" {
		wsConnected.Set(1)
	} else {
		wsConnected.Set(0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsStatus = status
}

// SetPendingSource registers a function reporting armed coalescing timers.
func (m *MetricsTracker) SetPendingSource(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = fn
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *MetricsTracker) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Events per second over the rate window
	eventRate := 0.0
	if len(m.eventTimestamps) > 0 {
		duration := time.Since(m.eventTimestamps[0]).Seconds()
		if duration > 0 {
			eventRate = float64(len(m.eventTimestamps)) / duration
		}
	}

	entities := make([]EntityActivity, 0, len(m.entities))
	for _, a := range m.entities {
		entities = append(entities, *a)
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].LastUpdate.After(entities[j].LastUpdate)
	})

	scopes := make([]ScopeActivity, 0, len(m.scopes))
	for _, a := range m.scopes {
		scopes = append(scopes, *a)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Scope < scopes[j].Scope })

	pending := 0
	if m.pending != nil {
		pending = m.pending()
	}

	return MetricsSnapshot{
		EventsTotal:     m.eventsTotal,
		EventsByKind:    copyCounts(m.eventsByKind),
		CoalescedByKind: copyCounts(m.coalescedByKind),
		DroppedByReason: copyCounts(m.droppedByReason),
		Patches:         m.patches,
		Reloads:         m.reloads,
		StatsApplied:    m.statsApplied,
		EventRate:       eventRate,
		Entities:        entities,
		Scopes:          scopes,
		RecentEvents:    append([]store.Event(nil), m.recentEvents...),
		RecentNotices:   append([]store.Notice(nil), m.recentNotices...),
		Subscriptions:   m.subscriptions,
		Uptime:          time.Since(m.startTime),
		WebSocketStatus: m.wsStatus,
		LastEventAt:     m.lastEventTime,
		PendingTimers:   pending,
	}
}

// Cleanup removes stale entity activity from the tracker.
func (m *MetricsTracker) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-activityTTL)
	for id, activity := range m.entities {
		if activity.LastUpdate.Before(cutoff) {
			delete(m.entities, id)
		}
	}
}

// Reset drops per-page activity after the page was replaced.
func (m *MetricsTracker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[store.EntityID]*EntityActivity)
	m.scopes = make(map[string]*ScopeActivity)
}

// pruneBefore drops the leading timestamps older than cutoff.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
