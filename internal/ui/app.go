// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App is the live page monitor.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	entities       *EntitiesView
	notices        *NoticesView
	liveEvents     *LiveEventsView
	statsDashboard *StatsDashboardView
	scopes         *ScopesView

	metricsTracker *metrics.MetricsTracker
	refreshRate    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application that redraws from tracker every
// refreshRate.
func NewApp(tracker *metrics.MetricsTracker, refreshRate time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}

	app := &App{
		app:            tview.NewApplication(),
		metricsTracker: tracker,
		refreshRate:    refreshRate,
		ctx:            ctx,
		cancel:         cancel,
	}

	app.entities = NewEntitiesView()
	app.notices = NewNoticesView()
	app.liveEvents = NewLiveEventsView()
	app.statsDashboard = NewStatsDashboardView()
	app.scopes = NewScopesView()

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the 5-panel layout.
func (a *App) setupLayout() {
	// Top row: Entities (left) | Notices (right)
	topRow := tview.NewFlex().
		AddItem(a.entities.Widget(), 0, 2, false).
		AddItem(a.notices.Widget(), 0, 1, false)

	// Middle row: Live Events (full width)
	middleRow := a.liveEvents.Widget()

	// Bottom row: Stats Dashboard (left) | Scopes (right)
	bottomRow := tview.NewFlex().
		AddItem(a.statsDashboard.Widget(), 0, 1, false).
		AddItem(a.scopes.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 2, false).
		AddItem(middleRow, 0, 3, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}

	return nil
}

// Done is closed once the monitor stops.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// updateLoop periodically refreshes views with metrics data.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// refresh redraws every view from a fresh snapshot.
func (a *App) refresh() {
	snapshot := a.metricsTracker.Snapshot()

	a.app.QueueUpdateDraw(func() {
		a.update(snapshot)
	})
}

func (a *App) update(snapshot metrics.MetricsSnapshot) {
	a.entities.Update(snapshot)
	a.notices.Update(snapshot)
	a.liveEvents.Update(snapshot)
	a.statsDashboard.Update(snapshot)
	a.scopes.Update(snapshot)
}
