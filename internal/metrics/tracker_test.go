package metrics

import (
	"testing"
	"time"

	"github.com/florenceegi/livepage/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSnapshot(t *testing.T) {
	m := NewMetricsTracker()

	m.RecordEvent(KindPrice, store.Event{Channel: "price.7", Name: "price.updated"})
	m.RecordEvent(KindPrice, store.Event{Channel: "price.7", Name: "price.updated"})
	m.RecordEvent(KindStats, store.Event{Channel: "global.stats", Name: "stats.updated"})
	m.IncrementCoalesced(KindPrice)
	m.IncrementDropped(KindPrice, DropOffscreen)
	m.RecordPatch(7, "€125.50", 2)
	m.RecordStats("global", 3)
	m.RecordStats("global", 0)
	m.IncrementReloads()
	m.IncrementSubscriptions(KindPrice)
	m.SetWebSocketStatus("connected")
	m.SetPendingSource(func() int { return 4 })

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.EventsTotal)
	assert.Equal(t, int64(2), s.EventsByKind[KindPrice])
	assert.Equal(t, int64(1), s.CoalescedByKind[KindPrice])
	assert.Equal(t, int64(1), s.DroppedByReason[DropOffscreen])
	assert.Equal(t, int64(1), s.Patches)
	assert.Equal(t, int64(1), s.Reloads)
	assert.Equal(t, int64(2), s.StatsApplied)
	assert.Equal(t, 1, s.Subscriptions)
	assert.Equal(t, "connected", s.WebSocketStatus)
	assert.Equal(t, 4, s.PendingTimers)
	assert.Len(t, s.RecentEvents, 3)

	require.Len(t, s.Entities, 1)
	assert.Equal(t, "€125.50", s.Entities[0].PriceText)
	assert.Equal(t, 2, s.Entities[0].Elements)

	require.Len(t, s.Scopes, 1)
	assert.Equal(t, 2, s.Scopes[0].Updates)
	assert.Equal(t, 3, s.Scopes[0].FieldsChanged)
}

func TestRecentEventsAreCapped(t *testing.T) {
	m := NewMetricsTracker()
	for i := 0; i < recentEventsCap+10; i++ {
		m.RecordEvent(KindPrice, store.Event{Summary: "x"})
	}
	assert.Len(t, m.Snapshot().RecentEvents, recentEventsCap)
}

func TestPruneBefore(t *testing.T) {
	now := time.Now()
	ts := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-time.Second), now}

	got := pruneBefore(ts, now.Add(-rateWindow))
	assert.Len(t, got, 2)

	assert.Len(t, pruneBefore([]time.Time{now}, now.Add(-rateWindow)), 1)
}
