package page

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPage = `<html><body>
<div class="egi-card" data-egi-id="7"><span data-price-display>€10.00</span>
  <button class="reserve-button" data-egi-id="7">Prenota</button>
</div>
<div class="egi-card-list" data-egi-id="7"><span data-price-display>€10.00</span></div>
<a data-egi-id="7" data-role="control" href="/egis/7">open</a>
<div data-egi-id="9"></div>
<div data-egi-id="nope"></div>
<div id="globalStatsContainer_1"><span id="statVolume_1">€1</span></div>
<div id="heroBannerStatsContainer_1"><span id="statVolume_2">€1</span></div>
<div data-stats-scope="collection" data-collection-id="42">
  <span id="statTotalEgis_42">1</span>
</div>
<div data-stats-scope="collection" data-collection-id="42"></div>
<div id="collectionStatsContainer_5"></div>
<div data-stats-scope="collection" data-collection-id="0"></div>
</body></html>`

func TestRegistryEntities(t *testing.T) {
	doc, err := ParseString(listPage, "https://example.test/egis")
	require.NoError(t, err)

	reg := doc.Registry()
	assert.Equal(t, []store.EntityID{7, 9}, reg.Entities())

	displays := reg.Displays(7)
	require.Len(t, displays, 2)
	assert.True(t, displays[0].Selection().HasClass("egi-card"))
	assert.True(t, displays[1].Selection().HasClass("egi-card-list"))

	controls := reg.Controls(7)
	require.Len(t, controls, 2)
	assert.Equal(t, "button", goquery.NodeName(controls[0].Selection()))
	assert.Equal(t, "a", goquery.NodeName(controls[1].Selection()))

	assert.Same(t, displays[0], reg.Primary(7))
	assert.Nil(t, reg.Primary(1234))
}

func TestRegistryScopes(t *testing.T) {
	doc, err := ParseString(listPage, "https://example.test/")
	require.NoError(t, err)

	reg := doc.Registry()
	assert.Equal(t, []store.StatsScope{
		store.GlobalScope,
		store.CollectionScope(5),
		store.CollectionScope(42),
	}, reg.Scopes())

	assert.Len(t, reg.Containers(store.GlobalScope), 2)
	assert.Len(t, reg.Containers(store.CollectionScope(42)), 2)
	assert.Len(t, reg.Containers(store.CollectionScope(5)), 1)
	assert.Empty(t, reg.Containers(store.CollectionScope(6)))
}

func TestContainerOf(t *testing.T) {
	doc, err := ParseString(`<div data-stats-scope="global">
<div data-stats-scope="collection" data-collection-id="3"><span id="statVolume_3">x</span></div>
<span id="statVolume_g">y</span></div>`, "https://example.test/")
	require.NoError(t, err)

	doc.Do(func(d *goquery.Document) {
		inner := d.Find("#statVolume_3").Get(0)
		outer := d.Find("#statVolume_g").Get(0)

		scope, ok := ScopeOf(ContainerOf(inner))
		require.True(t, ok)
		assert.Equal(t, store.CollectionScope(3), scope)

		scope, ok = ScopeOf(ContainerOf(outer))
		require.True(t, ok)
		assert.Equal(t, store.GlobalScope, scope)
	})
}

func TestDocumentReplace(t *testing.T) {
	doc, err := ParseString(listPage, "https://example.test/egis/7")
	require.NoError(t, err)
	assert.Equal(t, "/egis/7", doc.Path())

	require.NoError(t, doc.Replace(strings.NewReader(`<div data-egi-id="11"></div>`)))
	assert.Equal(t, []store.EntityID{11}, doc.Registry().Entities())
	assert.Empty(t, doc.Registry().Scopes())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, `data-egi-id="11"`)
}

func TestRegistryLegacyStatsMarkup(t *testing.T) {
	doc, err := ParseString(`<html><body>
<div class="mobile-stats-container"><span class="stat-volume">€1</span></div>
<span data-stat="volume">€1</span>
<span class="global-egis-stat">10</span>
<div data-stats-scope="collection" data-collection-id="4">
  <span data-stat="volume">€2</span>
</div>
</body></html>`, "https://example.test/")
	require.NoError(t, err)

	reg := doc.Registry()
	assert.Equal(t, []store.StatsScope{store.GlobalScope, store.CollectionScope(4)}, reg.Scopes())
	assert.Len(t, reg.Containers(store.GlobalScope), 1)

	assert.Len(t, reg.LooseStats(store.FieldVolume), 1)
	assert.Len(t, reg.LooseStats(store.FieldTotalItems), 1)
	assert.Empty(t, reg.LooseStats(store.FieldCollections))
}

func TestLooseStatsAloneOpenGlobalScope(t *testing.T) {
	doc, err := ParseString(`<html><body><p class="global-volume-stat">€1</p></body></html>`, "https://example.test/")
	require.NoError(t, err)

	reg := doc.Registry()
	assert.Equal(t, []store.StatsScope{store.GlobalScope}, reg.Scopes())
	assert.Empty(t, reg.Containers(store.GlobalScope))
	assert.Len(t, reg.LooseStats(store.FieldVolume), 1)
}
