package ui

import (
	"fmt"

	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// NoticesView mirrors the transient notices shown on the page.
type NoticesView struct {
	list *tview.List
}

// NewNoticesView creates a new notices view.
func NewNoticesView() *NoticesView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" Notices ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	return &NoticesView{list: list}
}

// Widget returns the tview primitive.
func (v *NoticesView) Widget() tview.Primitive {
	return v.list
}

// Update rebuilds the list from the snapshot, newest first.
func (v *NoticesView) Update(snapshot metrics.MetricsSnapshot) {
	v.list.Clear()

	notices := snapshot.RecentNotices
	if len(notices) == 0 {
		v.list.AddItem("No notices yet", "", 0, nil)
		v.list.SetTitle(" Notices ")
		return
	}

	for i := len(notices) - 1; i >= 0; i-- {
		main, secondary := formatNotice(notices[i])
		v.list.AddItem(main, secondary, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" Notices (%d) ", len(notices)))
}

func formatNotice(n store.Notice) (string, string) {
	color := "white"
	switch n.Kind {
	case store.NoticeReload:
		color = "yellow"
	case store.NoticeStats:
		color = "green"
	}

	main := fmt.Sprintf("%s [%s]%s[-]", n.CreatedAt.Format("15:04:05"), color, n.Kind)
	return main, n.Message
}
