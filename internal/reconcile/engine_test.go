package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/ingest"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

type stubNavigator struct {
	calls atomic.Int32
}

func (s *stubNavigator) Reload() error {
	s.calls.Add(1)
	return nil
}

type fixture struct {
	engine      *Engine
	doc         *page.Document
	hub         *ingest.Hub
	clock       *clockwork.FakeClock
	nav         *stubNavigator
	tracker     *metrics.MetricsTracker
	highlighter *feedback.Highlighter
}

func newFixture(t *testing.T, body, pageURL string, mutate ...func(*Deps, *Options)) *fixture {
	t.Helper()

	doc, err := page.ParseString("<html><body>"+body+"</body></html>", pageURL)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	f := &fixture{
		doc:         doc,
		hub:         ingest.NewHub(),
		clock:       clock,
		nav:         &stubNavigator{},
		tracker:     metrics.NewMetricsTracker(),
		highlighter: feedback.NewHighlighter(doc, clock, 300*time.Millisecond),
	}

	deps := Deps{
		Document:    doc,
		Broadcaster: f.hub,
		Navigator:   f.nav,
		Highlighter: f.highlighter,
		Clock:       clock,
		Tracker:     f.tracker,
	}
	opts := Options{ShowStatsNotices: true}
	for _, m := range mutate {
		m(&deps, &opts)
	}

	f.engine, err = NewEngine(deps, opts)
	require.NoError(t, err)
	f.engine.InitPrice()
	f.engine.InitStats()
	return f
}

func (f *fixture) publishPrice(t *testing.T, id int, payload map[string]any) {
	t.Helper()
	_, err := f.hub.Publish(fmt.Sprintf("price.%d", id), "price.updated", payload)
	require.NoError(t, err)
}

func (f *fixture) publishStats(t *testing.T, channel string, payload map[string]any) {
	t.Helper()
	_, err := f.hub.Publish(channel, "stats.updated", payload)
	require.NoError(t, err)
}

func (f *fixture) texts(selector string) []string {
	var out []string
	f.doc.Do(func(d *goquery.Document) {
		d.Find(selector).Each(func(_ int, s *goquery.Selection) {
			out = append(out, strings.TrimSpace(s.Text()))
		})
	})
	return out
}

func (f *fixture) styles(selector string) []string {
	var out []string
	f.doc.Do(func(d *goquery.Document) {
		d.Find(selector).Each(func(_ int, s *goquery.Selection) {
			out = append(out, s.AttrOr("style", ""))
		})
	})
	return out
}

func card(id int, class, price string) string {
	return fmt.Sprintf(`<div class="%s" data-egi-id="%d"><span data-price-display>%s</span></div>`, class, id, price)
}

func price(amount string) map[string]any {
	return map[string]any{"amount": amount, "currency": "EUR"}
}

func TestPriceUpdateReachesEveryCard(t *testing.T) {
	f := newFixture(t, card(7, "egi-card", "€100.00")+card(7, "egi-card-list", "€100.00"), "https://florence.test/home")

	f.publishPrice(t, 7, price("125.50"))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"€125.50", "€125.50"}, f.texts("[data-price-display]"))
	}, waitFor, time.Millisecond)

	for _, style := range f.styles("[data-price-display]") {
		assert.Contains(t, style, "background-color: #fef3c7")
	}

	f.clock.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"", ""}, f.styles("[data-price-display]"))
	}, waitFor, time.Millisecond)
}

func TestPriceUpdatesCoalesceToLastPayload(t *testing.T) {
	f := newFixture(t, card(3, "egi-card", "€1.00"), "https://florence.test/")

	f.publishPrice(t, 3, price("10"))
	f.publishPrice(t, 3, price("20"))
	f.publishPrice(t, 3, price("30"))
	assert.Equal(t, 1, f.engine.Pending())

	f.clock.Advance(DefaultPriceDebounce)
	require.Eventually(t, func() bool { return f.tracker.Snapshot().Patches == 1 }, waitFor, time.Millisecond)

	assert.Equal(t, []string{"€30.00"}, f.texts("[data-price-display]"))

	snap := f.tracker.Snapshot()
	assert.Equal(t, int64(2), snap.CoalescedByKind[metrics.KindPrice])
	assert.Equal(t, int64(3), snap.EventsByKind[metrics.KindPrice])
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, 1, snap.Entities[0].Updates)
	assert.Zero(t, f.engine.Pending())
}

func TestPriceSkipsControlElements(t *testing.T) {
	body := card(9, "egi-card-list", "€5.00") +
		card(9, "egi-detail-summary", "€5.00") +
		`<button class="reserve-button" data-egi-id="9">Prenota</button>`
	f := newFixture(t, body, "https://florence.test/collections/1")

	f.publishPrice(t, 9, price("42"))
	f.clock.Advance(DefaultPriceDebounce)
	require.Eventually(t, func() bool { return f.tracker.Snapshot().Patches == 1 }, waitFor, time.Millisecond)

	snap := f.tracker.Snapshot()
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, 2, snap.Entities[0].Elements)
	assert.Equal(t, []string{"€42.00", "€42.00"}, f.texts("[data-price-display]"))
	assert.Equal(t, []string{"Prenota"}, f.texts("button"))
}

func structurePayload(amount string) map[string]any {
	return map[string]any{
		"amount":   amount,
		"currency": "EUR",
		"structure_changes": map[string]any{
			"is_first_reservation": true,
			"reservation_count":    1,
			"activator":            map[string]any{"name": "Mario Rossi", "is_commissioner": false},
			"button_state":         "rilancia",
		},
	}
}

func TestStructureChangeOnDetailPageReloads(t *testing.T) {
	f := newFixture(t, card(7, "egi-detail", "€100.00"), "https://florence.test/egis/7")

	f.publishPrice(t, 7, structurePayload("150"))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool { return f.tracker.Snapshot().Reloads == 1 }, waitFor, time.Millisecond)
	assert.Len(t, f.texts("."+feedback.NoticeClass), 1)
	assert.Equal(t, []string{"€100.00"}, f.texts("[data-price-display]"))
	assert.Zero(t, f.nav.calls.Load())

	f.clock.Advance(DefaultReloadDelay)
	require.Eventually(t, func() bool { return f.nav.calls.Load() == 1 }, waitFor, time.Millisecond)
	assert.Zero(t, f.tracker.Snapshot().Patches)
}

func TestStructureChangeOnListPagePatches(t *testing.T) {
	for _, pageURL := range []string{
		"https://florence.test/egis",
		"https://florence.test/egis/8",
		"https://florence.test/collections/7",
	} {
		t.Run(pageURL, func(t *testing.T) {
			f := newFixture(t, card(7, "egi-card", "€100.00"), pageURL)

			f.publishPrice(t, 7, structurePayload("150"))
			f.clock.Advance(DefaultPriceDebounce)

			require.Eventually(t, func() bool { return f.tracker.Snapshot().Patches == 1 }, waitFor, time.Millisecond)
			assert.Equal(t, []string{"€150.00"}, f.texts("[data-price-display]"))
			assert.Zero(t, f.tracker.Snapshot().Reloads)

			f.clock.Advance(DefaultReloadDelay)
			assert.Zero(t, f.nav.calls.Load())
		})
	}
}

func TestPriceOnDetailPageWithoutStructurePatches(t *testing.T) {
	f := newFixture(t, card(7, "egi-detail", "€100.00"), "https://florence.test/egis/7")

	f.publishPrice(t, 7, price("101"))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool { return f.tracker.Snapshot().Patches == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"€101.00"}, f.texts("[data-price-display]"))
}

func TestOffscreenUpdateIsDropped(t *testing.T) {
	f := newFixture(t, card(4, "egi-card", "€1.00"), "https://florence.test/", func(d *Deps, _ *Options) {
		d.Viewport = page.ViewportFunc(func(*page.Element) bool { return false })
	})

	f.publishPrice(t, 4, price("2"))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().DroppedByReason[metrics.DropOffscreen] == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, []string{"€1.00"}, f.texts("[data-price-display]"))
	assert.Equal(t, []string{""}, f.styles("[data-price-display]"))
}

func TestUpdateForAbsentEntityIsNoop(t *testing.T) {
	f := newFixture(t, card(1, "egi-card", "€1.00"), "https://florence.test/")

	payload := price("9")
	f.engine.OnPriceEvent(mustDecodePrice(t, 99, payload))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool {
		return f.tracker.Snapshot().DroppedByReason[metrics.DropMissing] == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, []string{"€1.00"}, f.texts("[data-price-display]"))
}

func TestMalformedPriceIsDropped(t *testing.T) {
	f := newFixture(t, card(1, "egi-card", "€1.00"), "https://florence.test/")

	f.publishPrice(t, 1, map[string]any{"currency": "EUR"})
	f.publishPrice(t, 1, map[string]any{"amount": "1", "currency": "nope"})

	assert.Equal(t, int64(2), f.tracker.Snapshot().DroppedByReason[metrics.DropInvalid])
	assert.Zero(t, f.engine.Pending())
}

func TestLegacyCurrencyFallback(t *testing.T) {
	body := `<div data-egi-id="5"><p class="currency-display">€ 3,00</p><p class="currency-display">n/a</p></div>`
	f := newFixture(t, body, "https://florence.test/")

	f.publishPrice(t, 5, price("4"))
	f.clock.Advance(DefaultPriceDebounce)

	require.Eventually(t, func() bool { return f.tracker.Snapshot().Patches == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"€4.00", "n/a"}, f.texts(".currency-display"))
}

func TestPriceSubscriptionsOncePerEntity(t *testing.T) {
	f := newFixture(t, card(7, "a", "€1")+card(7, "b", "€1")+card(8, "c", "€1"), "https://florence.test/")

	assert.Equal(t, 1, f.hub.Opens("price.7"))
	assert.Equal(t, 1, f.hub.Opens("price.8"))
	assert.Zero(t, f.engine.InitPrice())
	assert.Equal(t, 1, f.hub.Opens("price.7"))
}

func TestReloadSubscribesOnlyNewKeys(t *testing.T) {
	f := newFixture(t, card(1, "a", "€1")+card(2, "b", "€1")+`<div data-stats-scope="global"></div>`, "https://florence.test/")

	next := "<html><body>" + card(2, "b", "€1") + card(3, "c", "€1") +
		`<div data-stats-scope="global"></div><div data-stats-scope="collection" data-collection-id="5"></div></body></html>`
	require.NoError(t, f.engine.Reload(strings.NewReader(next)))

	assert.Equal(t, 1, f.hub.Opens("price.1"))
	assert.Equal(t, 1, f.hub.Opens("price.2"))
	assert.Equal(t, 1, f.hub.Opens("price.3"))
	assert.Equal(t, 1, f.hub.Opens("global.stats"))
	assert.Equal(t, 1, f.hub.Opens("collection.5.stats"))
	assert.ElementsMatch(t,
		[]string{"price.1", "price.2", "price.3", "global.stats", "collection.5.stats"},
		f.engine.Subscriptions())
}

func TestNilBroadcasterDegrades(t *testing.T) {
	doc, err := page.ParseString("<html><body>"+card(1, "a", "€1")+"</body></html>", "https://florence.test/")
	require.NoError(t, err)

	e, err := NewEngine(Deps{Document: doc}, Options{})
	require.NoError(t, err)
	assert.Zero(t, e.InitPrice())
	assert.Zero(t, e.InitStats())
	assert.Empty(t, e.Subscriptions())

	_, err = NewEngine(Deps{}, Options{})
	assert.Error(t, err)
}

func mustDecodePrice(t *testing.T, id int, payload map[string]any) store.PriceUpdate {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	u, err := ingest.DecodePriceUpdate(store.EntityID(id), raw)
	require.NoError(t, err)
	return u
}
