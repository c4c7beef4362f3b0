// Package reconcile keeps a live page in step with realtime broadcasts:
// price updates fanned out to every replica of an entity, structural
// reservation changes, and scoped statistics panels.
package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/ingest"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/jonboulle/clockwork"
)

// Defaults.
const (
	DefaultPriceDebounce     = 120 * time.Millisecond
	DefaultStatsDebounce     = 100 * time.Millisecond
	DefaultReloadDelay       = 1500 * time.Millisecond
	DefaultDetailPathPattern = `^/egis/(\d+)/?$`
)

// Options tunes timing and page-context rules.
type Options struct {
	PriceDebounce time.Duration
	StatsDebounce time.Duration
	ReloadDelay   time.Duration

	// DetailPath matches the URL path of an entity detail page. The first
	// capture group, when present, must equal the entity id.
	DetailPath *regexp.Regexp

	ShowStatsNotices bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.PriceDebounce <= 0 {
		o.PriceDebounce = DefaultPriceDebounce
	}
	if o.StatsDebounce <= 0 {
		o.StatsDebounce = DefaultStatsDebounce
	}
	if o.ReloadDelay <= 0 {
		o.ReloadDelay = DefaultReloadDelay
	}
	if o.DetailPath == nil {
		o.DetailPath = regexp.MustCompile(DefaultDetailPathPattern)
	}
	return o
}

// Deps are the collaborators of the engine. Only Document is required.
type Deps struct {
	Document    *page.Document
	Broadcaster ingest.Broadcaster
	Navigator   Navigator
	Viewport    page.Viewport
	Notifier    feedback.Notifier
	Highlighter *feedback.Highlighter
	Clock       clockwork.Clock
	Tracker     *metrics.MetricsTracker
	Formatter   *format.Formatter
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Tracker == nil {
		d.Tracker = metrics.NewMetricsTracker()
	}
	if d.Formatter == nil {
		d.Formatter = format.Default
	}
	if d.Viewport == nil {
		d.Viewport = page.AlwaysVisible{}
	}
	if d.Highlighter == nil {
		d.Highlighter = feedback.NewHighlighter(d.Document, d.Clock, feedback.DefaultHighlightDuration)
	}
	if d.Notifier == nil {
		d.Notifier = feedback.NewNotices(d.Document, d.Clock, feedback.DefaultNoticeDuration, d.Tracker.RecordNotice)
	}
	if d.Navigator == nil {
		d.Navigator = NavigatorFunc(func() error {
			slog.Warn("page_reload_unsupported")
			return nil
		})
	}
	return d
}

// Engine is the reconciliation context of one page session. It owns the
// transport handle and the reconcilers and is passed explicitly to whoever
// needs it.
type Engine struct {
	doc     *page.Document
	clock   clockwork.Clock
	tracker *metrics.MetricsTracker
	subs    *SubscriptionManager
	price   *PriceReconciler
	stats   *StatsReconciler
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Document == nil {
		return nil, fmt.Errorf("document is required")
	}
	deps = deps.withDefaults()
	opts = opts.withDefaults()

	e := &Engine{
		doc:     deps.Document,
		clock:   deps.Clock,
		tracker: deps.Tracker,
		subs:    NewSubscriptionManager(deps.Broadcaster, deps.Tracker),
		price:   NewPriceReconciler(deps, opts),
		stats:   NewStatsReconciler(deps, opts),
	}
	e.tracker.SetPendingSource(e.Pending)
	return e, nil
}

// InitPrice subscribes to the price channel of every entity on the page.
// It returns the number of new subscriptions.
func (e *Engine) InitPrice() int {
	opened := 0
	for _, id := range e.doc.Registry().Entities() {
		if e.subs.SubscribePrice(id, e.priceHandler(id)) {
			opened++
		}
	}
	slog.Info("price_init", "entities", len(e.doc.Registry().Entities()), "subscribed", opened)
	return opened
}

// InitStats subscribes once per distinct stats scope present on the page.
// It returns the number of new subscriptions.
func (e *Engine) InitStats() int {
	scopes := e.doc.Registry().Scopes()
	opened := 0
	for _, scope := range scopes {
		if e.subs.SubscribeStats(scope, e.statsHandler(scope)) {
			opened++
		}
	}
	slog.Info("stats_init", "scopes", len(scopes), "subscribed", opened)
	return opened
}

// Reload swaps in a freshly loaded page. Subscriptions are kept; only
// entities and scopes that were not on the previous page are subscribed.
func (e *Engine) Reload(r io.Reader) error {
	if err := e.doc.Replace(r); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	e.tracker.Reset()

	prices := e.InitPrice()
	stats := e.InitStats()
	slog.Info("page_reloaded", "new_price_channels", prices, "new_stats_channels", stats)
	return nil
}

// Subscriptions returns the subscribed channel names.
func (e *Engine) Subscriptions() []string {
	return e.subs.Channels()
}

// Document returns the live page.
func (e *Engine) Document() *page.Document {
	return e.doc
}

// Pending returns the number of armed coalescing timers.
func (e *Engine) Pending() int {
	return e.price.Pending() + e.stats.Pending()
}

// OnPriceEvent feeds a decoded price update, bypassing the transport.
func (e *Engine) OnPriceEvent(u store.PriceUpdate) {
	e.price.OnPriceEvent(u)
}

// OnStatsEvent feeds a decoded stats update, bypassing the transport.
func (e *Engine) OnStatsEvent(scope store.StatsScope, u store.StatsUpdate) {
	e.stats.OnStatsEvent(scope, u)
}

func (e *Engine) priceHandler(id store.EntityID) ingest.Handler {
	channel := store.PriceChannelName(id)
	return func(payload json.RawMessage) {
		u, err := ingest.DecodePriceUpdate(id, payload)
		if err != nil {
			slog.Warn("price_payload_invalid", "channel", channel, "error", err)
			e.tracker.IncrementDropped(metrics.KindPrice, metrics.DropInvalid)
			return
		}

		e.tracker.RecordEvent(metrics.KindPrice, store.Event{
			Channel:    channel,
			Name:       store.PriceEvent,
			ReceivedAt: e.clock.Now(),
			Summary:    summarizePrice(u),
		})
		e.price.OnPriceEvent(u)
	}
}

func (e *Engine) statsHandler(scope store.StatsScope) ingest.Handler {
	channel := scope.ChannelName()
	return func(payload json.RawMessage) {
		u, err := ingest.DecodeStatsUpdate(payload)
		if err != nil {
			slog.Warn("stats_payload_invalid", "channel", channel, "error", err)
			e.tracker.IncrementDropped(metrics.KindStats, metrics.DropInvalid)
			return
		}

		e.tracker.RecordEvent(metrics.KindStats, store.Event{
			Channel:    channel,
			Name:       store.StatsEvent,
			ReceivedAt: e.clock.Now(),
			Summary:    summarizeStats(u),
		})
		e.stats.OnStatsEvent(scope, u)
	}
}

func summarizePrice(u store.PriceUpdate) string {
	s := fmt.Sprintf("%s %s", u.Amount.StringFixed(2), u.Currency)
	if u.HasStructure() {
		s += " +structure"
	}
	return s
}

func summarizeStats(u store.StatsUpdate) string {
	s := "volume " + u.Stats.Formatted.Volume
	if u.Trigger != "" {
		s += " (" + u.Trigger + ")"
	}
	return s
}
