package ui

import (
	"github.com/dustin/go-humanize"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var scopeHeaders = []string{"Scope", "Updates", "Changed", "Updated"}

// ScopesView displays stats activity per scope.
type ScopesView struct {
	table *tview.Table
}

// NewScopesView creates a new scopes view.
func NewScopesView() *ScopesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Stats Scopes ").SetBorder(true)
	setHeader(table, scopeHeaders, false)

	return &ScopesView{table: table}
}

// Widget returns the tview primitive.
func (v *ScopesView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the scopes display.
func (v *ScopesView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	setHeader(v.table, scopeHeaders, false)

	if len(snapshot.Scopes) == 0 {
		v.table.SetCell(1, 0, tview.NewTableCell("No data yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1))
		return
	}

	for i, s := range snapshot.Scopes {
		row := i + 1

		changedColor := tcell.ColorWhite
		if s.FieldsChanged > 0 {
			changedColor = tcell.ColorGreen
		}

		v.table.SetCell(row, 0, tview.NewTableCell(s.Scope).SetAlign(tview.AlignLeft))
		v.table.SetCell(row, 1, tview.NewTableCell(humanize.Comma(int64(s.Updates))).
			SetAlign(tview.AlignRight))
		v.table.SetCell(row, 2, tview.NewTableCell(humanize.Comma(int64(s.FieldsChanged))).
			SetAlign(tview.AlignRight).
			SetTextColor(changedColor))
		v.table.SetCell(row, 3, tview.NewTableCell(formatTimeAgo(s.LastUpdate)).
			SetAlign(tview.AlignRight))
	}
}
