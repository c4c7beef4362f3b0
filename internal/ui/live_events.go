package ui

import (
	"fmt"

	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/rivo/tview"
)

var liveEventHeaders = []string{"Time", "Channel", "Event", "Payload"}

// LiveEventsView displays a scrolling feed of received broadcasts, newest
// first.
type LiveEventsView struct {
	table   *tview.Table
	maxRows int
}

// NewLiveEventsView creates a new live events view.
func NewLiveEventsView() *LiveEventsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Events ").SetBorder(true)
	setHeader(table, liveEventHeaders, false)

	return &LiveEventsView{
		table:   table,
		maxRows: 100,
	}
}

// Widget returns the tview primitive.
func (v *LiveEventsView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the feed from the snapshot.
func (v *LiveEventsView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	setHeader(v.table, liveEventHeaders, false)

	events := snapshot.RecentEvents
	row := 1
	for i := len(events) - 1; i >= 0 && row <= v.maxRows; i-- {
		ev := events[i]
		cells := []string{
			ev.ReceivedAt.Format("15:04:05.000"),
			ev.Channel,
			ev.Name,
			truncate(ev.Summary, 60),
		}
		for col, text := range cells {
			v.table.SetCell(row, col, tview.NewTableCell(text).SetAlign(tview.AlignLeft))
		}
		row++
	}

	v.table.SetTitle(fmt.Sprintf(" Live Events (%d) ", len(events)))
}
