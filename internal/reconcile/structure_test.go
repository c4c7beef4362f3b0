package reconcile

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyStructure runs the reconciler on the #card element of body and
// returns the resulting document.
func applyStructure(t *testing.T, body string, changes *store.StructureChanges) (*goquery.Document, int) {
	t.Helper()

	doc, err := page.ParseString("<html><body>"+body+"</body></html>", "https://florence.test/")
	require.NoError(t, err)

	s := NewStructureReconciler(nil, format.Default)

	var out *goquery.Document
	touched := 0
	doc.Do(func(d *goquery.Document) {
		card := d.Find("#card")
		require.Equal(t, 1, card.Length())
		touched = s.Apply(card.Get(0), changes)
		out = d
	})
	return out, touched
}

func intPtr(n int) *int { return &n }

func TestActivatorUpdatedInPlace(t *testing.T) {
	body := `<div id="card"><span data-activator-name>Old Name</span><img class="activator-avatar" src="/old.png"></div>`
	d, touched := applyStructure(t, body, &store.StructureChanges{
		Activator: &store.Activator{Name: "Giulia Bianchi", AvatarURL: "https://cdn.test/g.png"},
	})

	assert.Equal(t, 1, touched)
	assert.Equal(t, "Giulia Bianchi", d.Find("[data-activator-name]").Text())
	assert.Equal(t, "https://cdn.test/g.png", d.Find("img.activator-avatar").AttrOr("src", ""))
}

func TestPlaceholderReplacedWithActivatedSection(t *testing.T) {
	body := `<div id="card" class="egi-card-list"><div data-activation-status="available">Da attivare</div></div>`
	d, _ := applyStructure(t, body, &store.StructureChanges{
		Activator: &store.Activator{Name: "Mario Rossi", IsPrivilegedRole: true},
	})

	assert.Zero(t, d.Find(`[data-activation-status="available"]`).Length())

	activated := d.Find(`#card > [data-activation-status="activated"]`)
	require.Equal(t, 1, activated.Length())
	assert.Equal(t, "Mario Rossi", activated.Find("[data-activator-name]").Text())
	assert.Equal(t, "MR", activated.Find(".activator-initials").Text())
	assert.True(t, activated.Find(".activator-initials").HasClass("bg-green-500"))
	assert.Equal(t, "(Attivatore)", activated.Find("[data-role-badge]").Text())
}

func TestActivatorMarkupIsSanitized(t *testing.T) {
	body := `<div id="card"><div data-activation-status="available"></div></div>`
	d, _ := applyStructure(t, body, &store.StructureChanges{
		Activator: &store.Activator{
			Name:      `<script>alert(1)</script>Eve`,
			AvatarURL: "javascript:alert(1)",
		},
	})

	assert.Zero(t, d.Find("script").Length())
	assert.Contains(t, d.Find("[data-activator-name]").Text(), "Eve")
	assert.NotContains(t, d.Find("img").AttrOr("src", ""), "javascript")
}

func TestActivatorAppendedToPriceSection(t *testing.T) {
	body := `<div id="card"><div data-price-section><span data-price-display>€1.00</span></div></div>`
	d, _ := applyStructure(t, body, &store.StructureChanges{
		Activator: &store.Activator{Name: "Luca", AvatarURL: "/avatars/luca.png"},
	})

	section := d.Find("[data-price-section] > [data-activator-section]")
	require.Equal(t, 1, section.Length())
	assert.Equal(t, "Luca", section.Find("[data-activator-name]").Text())
	assert.Equal(t, "/avatars/luca.png", section.Find("img.activator-avatar").AttrOr("src", ""))
}

const reserveClasses = "reserve-button bg-gradient-to-r from-purple-500 to-purple-600 hover:from-purple-600 hover:to-purple-700"

func TestOutbidSwapsEveryReserveButton(t *testing.T) {
	body := `<div id="card">` +
		`<button class="` + reserveClasses + `">Prenota</button>` +
		`<a class="` + reserveClasses + ` list-variant">Prenota</a>` +
		`</div>`
	d, touched := applyStructure(t, body, &store.StructureChanges{ButtonState: store.ButtonOutbid})

	assert.Equal(t, 1, touched)
	buttons := d.Find(".reserve-button")
	require.Equal(t, 2, buttons.Length())
	buttons.Each(func(_ int, b *goquery.Selection) {
		assert.Contains(t, b.Text(), "Rilancia")
		assert.Equal(t, "outbid", b.AttrOr("data-button-state", ""))
		assert.True(t, b.HasClass("from-amber-500"))
		assert.True(t, b.HasClass("to-orange-600"))
		assert.True(t, b.HasClass("hover:from-amber-600"))
		assert.True(t, b.HasClass("hover:to-orange-700"))
		assert.False(t, b.HasClass("from-purple-500"))
	})
}

func TestButtonNeverDowngrades(t *testing.T) {
	body := `<div id="card"><button class="reserve-button" data-button-state="outbid">Rilancia</button></div>`

	d, touched := applyStructure(t, body, &store.StructureChanges{ButtonState: store.ButtonReserve})
	assert.Zero(t, touched)
	assert.Equal(t, "Rilancia", d.Find("button").Text())

	d, touched = applyStructure(t, body, &store.StructureChanges{ButtonState: store.ButtonOutbid})
	assert.Zero(t, touched)
	assert.Equal(t, "Rilancia", d.Find("button").Text())
}

func TestButtonFallbackByLabel(t *testing.T) {
	body := `<div id="card"><button class="btn">Prenota ora</button><button class="btn">Dettagli</button></div>`
	d, _ := applyStructure(t, body, &store.StructureChanges{ButtonState: store.ButtonOutbid})

	texts := d.Find("button").Map(func(_ int, b *goquery.Selection) string { return strings.TrimSpace(b.Text()) })
	assert.Contains(t, texts[0], "Rilancia")
	assert.Equal(t, "Dettagli", texts[1])
}

func TestCounterIncrementsOrUsesAuthoritativeCount(t *testing.T) {
	body := `<div id="card"><div data-reservation-count><span class="text-gray-300">2 Prenotazioni</span></div></div>`

	d, _ := applyStructure(t, body, &store.StructureChanges{})
	assert.Equal(t, "3 Prenotazioni", d.Find("[data-reservation-count] .text-gray-300").Text())

	d, _ = applyStructure(t, body, &store.StructureChanges{ReservationCount: intPtr(1)})
	assert.Equal(t, "1 Prenotazione", d.Find("[data-reservation-count] .text-gray-300").Text())
}

func TestCounterCreatedAfterAnchors(t *testing.T) {
	body := `<div id="card"><div data-creator-info>creator</div><div data-collection-info>collection</div><div class="footer"></div></div>`
	d, touched := applyStructure(t, body, &store.StructureChanges{ReservationCount: intPtr(1)})

	assert.Equal(t, 1, touched)
	next := d.Find("[data-collection-info]").Next()
	assert.Equal(t, "true", next.AttrOr("data-reservation-count", ""))
	assert.Equal(t, "1 Prenotazione", strings.TrimSpace(next.Find(".text-gray-300").Text()))

	body = `<div id="card"><div data-creator-info>creator</div><div class="footer"></div></div>`
	d, _ = applyStructure(t, body, &store.StructureChanges{ReservationCount: intPtr(2)})
	next = d.Find("[data-creator-info]").Next()
	assert.Equal(t, "true", next.AttrOr("data-reservation-count", ""))
	assert.Equal(t, "2 Prenotazioni", strings.TrimSpace(next.Text()))
}

func TestCounterNotCreatedWithoutCount(t *testing.T) {
	body := `<div id="card"><div data-collection-info>collection</div></div>`

	d, touched := applyStructure(t, body, &store.StructureChanges{ReservationCount: intPtr(0)})
	assert.Zero(t, touched)
	assert.Zero(t, d.Find("[data-reservation-count]").Length())

	d, _ = applyStructure(t, body, &store.StructureChanges{})
	assert.Zero(t, d.Find("[data-reservation-count]").Length())
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "MR", initials("mario rossi"))
	assert.Equal(t, "A", initials("  anna "))
	assert.Equal(t, "AM", initials("anna maria rossi"))
	assert.Equal(t, "JD", initials("(john) doe"))
	assert.Equal(t, "?", initials(""))
}
