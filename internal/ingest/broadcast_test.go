package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEventName(t *testing.T) {
	tests := []struct {
		namespace, event, want string
	}{
		{DefaultNamespace, ".price.updated", "price.updated"},
		{DefaultNamespace, "PriceUpdated", `App\Events\PriceUpdated`},
		{DefaultNamespace, "Stats.Updated", `App\Events\Stats\Updated`},
		{DefaultNamespace, `\Custom\Event`, `Custom\Event`},
		{"", "price.updated", "price.updated"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatEventName(tt.namespace, tt.event), tt.event)
	}
}

func TestHubDispatchIsolatesPanics(t *testing.T) {
	hub := NewHub()

	var got []string
	ch := hub.Channel("price.7")
	ch.Listen(".price.updated", func(json.RawMessage) { panic("boom") }).
		Listen(".price.updated", func(p json.RawMessage) { got = append(got, string(p)) })

	n, err := hub.Publish("price.7", "price.updated", map[string]string{"amount": "1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"amount":"1"}`}, got)

	n, err = hub.Publish("price.8", "price.updated", map[string]string{})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = hub.Publish("price.7", "stats.updated", map[string]string{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHubCountsOpens(t *testing.T) {
	hub := NewHub()
	hub.Channel("global.stats")
	hub.Channel("global.stats")
	hub.Channel("collection.3.stats")

	assert.Equal(t, 2, hub.Opens("global.stats"))
	assert.Equal(t, 1, hub.Opens("collection.3.stats"))
	assert.Zero(t, hub.Opens("price.1"))
	assert.ElementsMatch(t, []string{"global.stats", "collection.3.stats"}, hub.Channels())
}
