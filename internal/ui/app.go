// Package ui provides the terminal dashboard over the live feed pipeline.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polywatch/engine/internal/alert"
	"github.com/polywatch/engine/internal/ingest"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/store"
	"github.com/polywatch/engine/internal/view"
)

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	feed   *FeedView
	stats  *StatsView
	alerts *AlertsView
	status *tview.TextView

	// Pipeline
	log      *store.Log
	agg      *metrics.Aggregator
	session  *ingest.Session
	monitor  *ingest.HealthMonitor
	notifier *alert.Notifier
	detect   view.DetectFunc

	// Filter state
	mu      sync.Mutex
	filters view.FilterState
	tracked map[string]struct{}
	limit   int

	refresh time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApp wires the dashboard to the pipeline components.
func NewApp(log *store.Log, agg *metrics.Aggregator, session *ingest.Session,
	monitor *ingest.HealthMonitor, notifier *alert.Notifier,
	detect view.DetectFunc, tracked map[string]struct{},
	limit int, refresh time.Duration) *App {

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:      tview.NewApplication(),
		feed:     NewFeedView(),
		stats:    NewStatsView(),
		alerts:   NewAlertsView(),
		log:      log,
		agg:      agg,
		session:  session,
		monitor:  monitor,
		notifier: notifier,
		detect:   detect,
		tracked:  tracked,
		limit:    limit,
		refresh:  refresh,
		ctx:      ctx,
		cancel:   cancel,
	}

	a.status = tview.NewTextView().SetDynamicColors(true)
	a.status.SetBorder(true).SetTitle(" Connection ")

	a.setupLayout()
	a.setupKeyboard()
	return a
}

// setupLayout builds the panel arrangement.
func (a *App) setupLayout() {
	bottomRow := tview.NewFlex().
		AddItem(a.stats.Widget(), 0, 1, false).
		AddItem(a.alerts.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.status, 3, 0, false).
		AddItem(a.feed.Widget(), 0, 3, false).
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
			case 'p', 'P':
				a.togglePause()
				return nil
			case 'w', 'W':
				a.toggleWhalesOnly()
				return nil
			case 't', 'T':
				a.toggleTrackedOnly()
				return nil
			case 'r', 'R':
				go a.reconnect()
				return nil
			case 'e', 'E':
				a.exportView()
				return nil
			}
		}
		return event
	})
}

// togglePause pauses or resumes the canonical log.
func (a *App) togglePause() {
	if a.log.Paused() {
		a.log.Resume()
	} else {
		a.log.Pause()
	}
}

// toggleWhalesOnly switches the view source between canonical log and
// whale buffer.
func (a *App) toggleWhalesOnly() {
	a.mu.Lock()
	a.filters.WhalesOnly = !a.filters.WhalesOnly
	a.mu.Unlock()
}

// toggleTrackedOnly scopes the feed to the tracked wallet set.
func (a *App) toggleTrackedOnly() {
	a.mu.Lock()
	a.filters.TrackedOnly = !a.filters.TrackedOnly
	a.mu.Unlock()
}

// reconnect is the manual retry action, always available.
func (a *App) reconnect() {
	if st := a.session.Status(); st == ingest.StatusOpen {
		a.session.ForceClose(ingest.RotateCloseCode, "manual reconnect")
		return
	}
	if err := a.session.Connect(a.ctx); err != nil {
		slog.Error("manual_reconnect_failed", "error", err)
	}
}

// exportView writes the current materialized view to a CSV file.
func (a *App) exportView() {
	trades := a.materialize()

	name := fmt.Sprintf("trades-%s.csv", time.Now().Format("20060102-150405"))
	f, err := os.Create(name)
	if err != nil {
		slog.Error("export_failed", "error", err)
		return
	}
	defer f.Close()

	if err := view.ExportCSV(f, trades); err != nil {
		slog.Error("export_failed", "error", err)
		return
	}
	slog.Info("view_exported", "file", name, "trades", len(trades))
}

// materialize computes the current filtered view.
func (a *App) materialize() []store.Trade {
	a.mu.Lock()
	filters := a.filters
	tracked := a.tracked
	limit := a.limit
	a.mu.Unlock()

	return view.Materialize(a.log, filters, tracked, a.detect, limit)
}

// Run starts the TUI (blocking).
func (a *App) Run() error {
	go a.refreshLoop()
	return a.app.Run()
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// refreshLoop redraws all panels on the refresh tick.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			trades := a.materialize()
			stats := a.agg.Stats()
			traders := a.agg.TopTraders()
			markets := a.agg.TopMarkets()
			alerts := a.notifier.Recent(10)
			status := a.statusLine()

			a.app.QueueUpdateDraw(func() {
				a.feed.Update(trades)
				a.stats.Update(stats, traders, markets)
				a.alerts.Update(alerts)
				a.status.SetText(status)
			})
		}
	}
}

// statusLine renders the connection indicator.
func (a *App) statusLine() string {
	var state string
	switch a.session.Status() {
	case ingest.StatusOpen:
		if a.monitor.Stale() {
			state = "[yellow]stale[-]"
		} else {
			state = "[green]live[-]"
		}
	case ingest.StatusConnecting, ingest.StatusReconnecting:
		state = "[yellow]connecting[-]"
	default:
		state = "[red]offline[-]"
	}

	line := fmt.Sprintf("%s  %.0f events/min", state, a.monitor.EventsPerMinute())
	if a.log.Paused() {
		line += fmt.Sprintf("  [yellow]paused (%d pending)[-]", a.log.PendingCount())
	}
	a.mu.Lock()
	if a.filters.WhalesOnly {
		line += "  [aqua]whales only[-]"
	}
	if a.filters.TrackedOnly {
		line += "  [aqua]tracked only[-]"
	}
	a.mu.Unlock()
	return line + "   (p)ause (w)hales (t)racked (r)econnect (e)xport (q)uit"
}
