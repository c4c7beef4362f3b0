package ui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/rivo/tview"
)

// StatsDashboardView displays connection health and reconciliation counters.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Stats Dashboard ").SetBorder(true)

	return &StatsDashboardView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.MetricsSnapshot) {
	v.textView.Clear()
	fmt.Fprint(v.textView, dashboardText(snapshot))
}

func dashboardText(snapshot metrics.MetricsSnapshot) string {
	wsColor := "red"
	switch snapshot.WebSocketStatus {
	case "connected":
		wsColor = "green"
	case "connecting":
		wsColor = "yellow"
	}

	return fmt.Sprintf(`[yellow]System Status[-]
Uptime: %s
WebSocket: [%s]%s[-]
Subscriptions: %d
Last Event: %s

[yellow]Events[-]
Price: %s  Stats: %s
Rate: %.2f events/sec
Coalesced: %s  Pending: %d

[yellow]Reconciliation[-]
Patches: %s  Reloads: %s
Stats Applied: %s
Dropped: offscreen %d, missing %d, invalid %d
`,
		formatDuration(snapshot.Uptime),
		wsColor, snapshot.WebSocketStatus,
		snapshot.Subscriptions,
		formatTimeAgo(snapshot.LastEventAt),
		humanize.Comma(snapshot.EventsByKind[metrics.KindPrice]),
		humanize.Comma(snapshot.EventsByKind[metrics.KindStats]),
		snapshot.EventRate,
		humanize.Comma(snapshot.CoalescedByKind[metrics.KindPrice]+snapshot.CoalescedByKind[metrics.KindStats]),
		snapshot.PendingTimers,
		humanize.Comma(snapshot.Patches),
		humanize.Comma(snapshot.Reloads),
		humanize.Comma(snapshot.StatsApplied),
		snapshot.DroppedByReason[metrics.DropOffscreen],
		snapshot.DroppedByReason[metrics.DropMissing],
		snapshot.DroppedByReason[metrics.DropInvalid],
	)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo formats a time as "X ago".
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// setHeader writes the header row of a table.
func setHeader(table *tview.Table, headers []string, expand bool) {
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		if expand {
			cell.SetExpansion(1)
		}
		table.SetCell(0, col, cell)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
