package ui

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/rivo/tview"
)

var entityHeaders = []string{"Item", "Price", "Updates", "Elements", "Updated"}

// EntitiesView lists the items whose price displays were patched, most
// recently updated first.
type EntitiesView struct {
	table *tview.Table
	limit int
}

// NewEntitiesView creates a new entities view.
func NewEntitiesView() *EntitiesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Items ").SetBorder(true)
	setHeader(table, entityHeaders, true)

	return &EntitiesView{table: table, limit: 10}
}

// Widget returns the tview primitive.
func (v *EntitiesView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the view with new metrics data.
func (v *EntitiesView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	setHeader(v.table, entityHeaders, true)

	entities := snapshot.Entities
	if len(entities) > v.limit {
		entities = entities[:v.limit]
	}

	for i, e := range entities {
		cells := []string{
			fmt.Sprintf("#%d", e.EntityID),
			e.PriceText,
			humanize.Comma(int64(e.Updates)),
			humanize.Comma(int64(e.Elements)),
			formatTimeAgo(e.LastUpdate),
		}
		for col, text := range cells {
			v.table.SetCell(i+1, col, tview.NewTableCell(text).
				SetAlign(tview.AlignLeft).
				SetExpansion(1))
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Items (%d patched) ", len(snapshot.Entities)))
}
