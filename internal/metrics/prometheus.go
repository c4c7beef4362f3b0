package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors mirrored by MetricsTracker.
var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Broadcast events received",
		},
		[]string{"kind"},
	)

	coalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "coalesced_total",
			Help:      "Events absorbed by a pending coalescing timer",
		},
		[]string{"kind"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "dropped_total",
			Help:      "Events that produced no DOM write",
		},
		[]string{"kind", "reason"},
	)

	patchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "patches_total",
			Help:      "In-place price patches",
		},
	)

	patchedElements = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "patched_elements",
			Help:      "Display replicas touched per price patch",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
	)

	reloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "reloads_total",
			Help:      "Page reloads triggered by structural changes",
		},
	)

	statsFieldsChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "reconcile",
			Name:      "stats_fields_changed_total",
			Help:      "Stats fields rewritten",
		},
		[]string{"scope"},
	)

	noticesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livepage",
			Subsystem: "feedback",
			Name:      "notices_total",
			Help:      "Transient notices raised",
		},
		[]string{"kind"},
	)

	subscriptionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "livepage",
			Subsystem: "broadcast",
			Name:      "subscriptions",
			Help:      "Open broadcast channel subscriptions",
		},
		[]string{"kind"},
	)

	wsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livepage",
			Subsystem: "broadcast",
			Name:      "connected",
			Help:      "1 while the broadcast WebSocket is connected",
		},
	)
)
