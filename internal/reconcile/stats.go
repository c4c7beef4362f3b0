package reconcile

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/coalesce"
	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"golang.org/x/net/html"
)

// abbreviateFrom is the raw magnitude from which count-like fields show the
// abbreviated form in the mobile span.
const abbreviateFrom = 1000

// StatsReconciler applies statistics snapshots to the containers of the
// scope they were broadcast for, and to nothing else.
type StatsReconciler struct {
	doc         *page.Document
	highlighter *feedback.Highlighter
	notifier    feedback.Notifier
	formatter   *format.Formatter
	tracker     *metrics.MetricsTracker
	showNotices bool
	buffer      *coalesce.Coalescer[store.StatsScope, store.StatsUpdate]
}

// NewStatsReconciler creates a StatsReconciler.
func NewStatsReconciler(deps Deps, opts Options) *StatsReconciler {
	deps = deps.withDefaults()
	opts = opts.withDefaults()

	s := &StatsReconciler{
		doc:         deps.Document,
		highlighter: deps.Highlighter,
		notifier:    deps.Notifier,
		formatter:   deps.Formatter,
		tracker:     deps.Tracker,
		showNotices: opts.ShowStatsNotices,
	}
	s.buffer = coalesce.New(deps.Clock, opts.StatsDebounce, s.flush)
	return s
}

// OnStatsEvent buffers a snapshot for scope.
func (s *StatsReconciler) OnStatsEvent(scope store.StatsScope, u store.StatsUpdate) {
	if !s.buffer.Submit(scope, u) {
		s.tracker.IncrementCoalesced(metrics.KindStats)
	}
}

// Pending returns the number of scopes with an armed timer.
func (s *StatsReconciler) Pending() int {
	return s.buffer.Len()
}

func (s *StatsReconciler) flush(scope store.StatsScope, u store.StatsUpdate) {
	changed, targets := 0, 0
	s.doc.Do(func(d *goquery.Document) {
		changed, targets = s.apply(d, scope, u)
	})

	if targets == 0 {
		s.tracker.IncrementDropped(metrics.KindStats, metrics.DropMissing)
		return
	}
	s.tracker.RecordStats(scope.String(), changed)
}

// apply updates every container of scope, plus the loose site-wide
// elements for the global scope. It returns the number of fields rewritten
// and of targets visited.
func (s *StatsReconciler) apply(d *goquery.Document, scope store.StatsScope, u store.StatsUpdate) (int, int) {
	registry := s.doc.Registry()
	containers := registry.Containers(scope)

	loose := make(map[store.StatsField][]*html.Node)
	if scope.IsGlobal() {
		for _, field := range store.AllStatsFields {
			if nodes := registry.LooseStats(field); len(nodes) > 0 {
				loose[field] = nodes
			}
		}
	}

	targets := len(containers) + len(loose)
	if targets == 0 {
		slog.Debug("stats_container_missing", "scope", scope)
		return 0, 0
	}

	changed := 0
	for _, c := range containers {
		for _, field := range store.AllStatsFields {
			for _, n := range fieldNodes(c, field) {
				if s.applyField(n, field, u.Stats) {
					changed++
				}
			}
		}
	}
	for field, nodes := range loose {
		for _, n := range nodes {
			if s.applyField(n, field, u.Stats) {
				changed++
			}
		}
	}

	if s.showNotices && u.Trigger != "" {
		s.notifier.Notify(d, store.NoticeStats, s.formatter.StatsNotice(u.Trigger))
	}

	slog.Debug("stats_applied",
		"scope", scope,
		"containers", len(containers),
		"loose_fields", len(loose),
		"fields_changed", changed,
		"trigger", u.Trigger,
	)
	return changed, targets
}

// fieldNodes returns the field elements owned by container c, matched by id
// prefix or legacy class. Elements inside a nested container belong to that
// container.
func fieldNodes(c *html.Node, field store.StatsField) []*html.Node {
	return page.Select(c).
		Find(field.Selector()).
		FilterFunction(func(_ int, sel *goquery.Selection) bool {
			return page.ContainerOf(sel.Get(0)) == c
		}).Nodes
}

// applyField rewrites one field element when its text differs from the
// snapshot. Responsive elements carry a desktop span with the full value
// and a mobile span that abbreviates count-like values. Fields missing from
// the snapshot are left as they are.
func (s *StatsReconciler) applyField(n *html.Node, field store.StatsField, snap store.StatsSnapshot) bool {
	if !snap.Formatted.Has(field) {
		return false
	}
	formatted := snap.Formatted.Get(field)
	sel := page.Select(n)

	desktop, mobile := responsiveSpans(sel)
	if desktop.Length() > 0 && mobile.Length() > 0 {
		mobileText := formatted
		if raw := snap.Raw.Get(field); !field.IsCurrency() && raw >= abbreviateFrom {
			mobileText = s.formatter.Abbreviate(raw, 0)
		}

		if strings.TrimSpace(desktop.Text()) == formatted && strings.TrimSpace(mobile.Text()) == mobileText {
			return false
		}
		s.highlighter.Flash(n, feedback.StatsStyle)
		desktop.SetText(formatted)
		mobile.SetText(mobileText)
		return true
	}

	if strings.TrimSpace(sel.Text()) == formatted {
		return false
	}
	s.highlighter.Flash(n, feedback.StatsStyle)
	sel.SetText(formatted)
	return true
}

// responsiveSpans finds the ".hidden.md:inline" and ".md:hidden" spans.
func responsiveSpans(sel *goquery.Selection) (desktop, mobile *goquery.Selection) {
	spans := sel.Find("span")
	desktop = spans.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass("hidden") && s.HasClass("md:inline")
	}).First()
	mobile = spans.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass("md:hidden")
	}).First()
	return desktop, mobile
}
