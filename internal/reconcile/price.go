package reconcile

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/coalesce"
	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html"
)

const (
	selPriceDisplay   = "[data-price-display]"
	selLegacyCurrency = ".currency-display"
)

// Navigator performs a full page reload.
type Navigator interface {
	Reload() error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func() error

// Reload implements Navigator.
func (f NavigatorFunc) Reload() error {
	return f()
}

type priceOutcome int

const (
	priceMissing priceOutcome = iota
	priceOffscreen
	priceReload
	pricePatched
)

// PriceReconciler coalesces price broadcasts per entity and applies the
// latest one to every display replica, or reloads the page when a
// structural change lands on the entity's own detail page.
type PriceReconciler struct {
	doc         *page.Document
	viewport    page.Viewport
	highlighter *feedback.Highlighter
	notifier    feedback.Notifier
	navigator   Navigator
	structure   *StructureReconciler
	formatter   *format.Formatter
	tracker     *metrics.MetricsTracker
	clock       clockwork.Clock
	detailPath  *regexp.Regexp
	reloadDelay time.Duration
	buffer      *coalesce.Coalescer[store.EntityID, store.PriceUpdate]
}

// NewPriceReconciler creates a PriceReconciler.
func NewPriceReconciler(deps Deps, opts Options) *PriceReconciler {
	deps = deps.withDefaults()
	opts = opts.withDefaults()

	p := &PriceReconciler{
		doc:         deps.Document,
		viewport:    deps.Viewport,
		highlighter: deps.Highlighter,
		notifier:    deps.Notifier,
		navigator:   deps.Navigator,
		structure:   NewStructureReconciler(deps.Highlighter, deps.Formatter),
		formatter:   deps.Formatter,
		tracker:     deps.Tracker,
		clock:       deps.Clock,
		detailPath:  opts.DetailPath,
		reloadDelay: opts.ReloadDelay,
	}
	p.buffer = coalesce.New(deps.Clock, opts.PriceDebounce, p.flush)
	return p
}

// OnPriceEvent buffers an update. Only the latest update per entity within
// one debounce window reaches the page.
func (p *PriceReconciler) OnPriceEvent(u store.PriceUpdate) {
	if !p.buffer.Submit(u.EntityID, u) {
		p.tracker.IncrementCoalesced(metrics.KindPrice)
	}
}

// Pending returns the number of entities with an armed timer.
func (p *PriceReconciler) Pending() int {
	return p.buffer.Len()
}

func (p *PriceReconciler) flush(id store.EntityID, u store.PriceUpdate) {
	reload := u.HasStructure() && p.isDetailPage(p.doc.Path(), id)

	var outcome priceOutcome
	p.doc.Do(func(d *goquery.Document) {
		outcome = p.apply(d, u, reload)
	})

	switch outcome {
	case priceMissing:
		p.tracker.IncrementDropped(metrics.KindPrice, metrics.DropMissing)
	case priceOffscreen:
		p.tracker.IncrementDropped(metrics.KindPrice, metrics.DropOffscreen)
	case priceReload:
		p.clock.AfterFunc(p.reloadDelay, func() {
			slog.Info("page_reloading", "egi_id", id)
			if err := p.navigator.Reload(); err != nil {
				slog.Error("page_reload_failed", "egi_id", id, "error", err)
			}
		})
		p.tracker.IncrementReloads()
	}
}

func (p *PriceReconciler) apply(d *goquery.Document, u store.PriceUpdate, reload bool) priceOutcome {
	primary := p.doc.Registry().Primary(u.EntityID)
	if primary == nil {
		slog.Debug("price_target_missing", "egi_id", u.EntityID)
		return priceMissing
	}

	// Off-screen updates are dropped to save work. The price can stay stale
	// until the next event for this entity arrives.
	if !p.viewport.Visible(primary) {
		slog.Debug("price_dropped_offscreen", "egi_id", u.EntityID)
		return priceOffscreen
	}

	displays := p.doc.Registry().Displays(u.EntityID)
	text := p.formatter.Price(u.Amount, u.Currency)
	symbol := p.formatter.CurrencySymbol(u.Currency)

	if reload {
		for _, el := range displays {
			for _, n := range priceNodes(el.Node, symbol) {
				p.highlighter.Flash(n, feedback.PriceStyle)
			}
		}
		p.notifier.Notify(d, store.NoticeReload, p.formatter.Label(format.LabelReloading))
		slog.Info("price_reload_scheduled", "egi_id", u.EntityID, "delay", p.reloadDelay)
		return priceReload
	}

	touched := 0
	for _, el := range displays {
		changed := 0
		if u.HasStructure() {
			changed += p.structure.Apply(el.Node, u.Structure)
		}
		for _, n := range priceNodes(el.Node, symbol) {
			page.Select(n).SetText(text)
			p.highlighter.Flash(n, feedback.PriceStyle)
			changed++
		}
		if changed > 0 {
			touched++
		}
	}

	p.tracker.RecordPatch(u.EntityID, text, touched)
	slog.Debug("price_patched",
		"egi_id", u.EntityID,
		"price", text,
		"elements", touched,
		"structure", u.HasStructure(),
	)
	return pricePatched
}

// isDetailPage reports whether path is the detail view of id. A pattern
// without a capture group matches any entity.
func (p *PriceReconciler) isDetailPage(path string, id store.EntityID) bool {
	if p.detailPath == nil {
		return false
	}
	m := p.detailPath.FindStringSubmatch(path)
	if m == nil {
		return false
	}
	if len(m) < 2 || m[1] == "" {
		return true
	}
	return m[1] == id.String()
}

// priceNodes returns the price display nodes inside el. Legacy markup
// without the display marker falls back to currency-styled text that
// already shows a currency symbol.
func priceNodes(el *html.Node, symbol string) []*html.Node {
	sel := page.Select(el)
	if sel.Is(selPriceDisplay) {
		return []*html.Node{el}
	}
	if nodes := sel.Find(selPriceDisplay).Nodes; len(nodes) > 0 {
		return nodes
	}
	return sel.Find(selLegacyCurrency).FilterFunction(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		return strings.Contains(text, symbol) || strings.ContainsAny(text, "€$£¥")
	}).Nodes
}
