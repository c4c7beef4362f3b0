// Package main is the entry point for the live page engine. It loads a
// server-rendered page, subscribes to its broadcast channels and keeps the
// page in sync with the events it receives.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/florenceegi/livepage/internal/config"
	"github.com/florenceegi/livepage/internal/feedback"
	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/ingest"
	"github.com/florenceegi/livepage/internal/metrics"
	"github.com/florenceegi/livepage/internal/page"
	"github.com/florenceegi/livepage/internal/reconcile"
	"github.com/florenceegi/livepage/internal/ui"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("livepage starting",
		"version", "1.0.0",
	)

	slog.Info("config_loaded",
		"broadcast_ws_url", cfg.BroadcastWSURL,
		"app_key", cfg.MaskedAppKey(),
		"event_namespace", cfg.EventNamespace,
		"page_url", cfg.PageURL,
		"locale", cfg.Locale.String(),
		"price_debounce", cfg.PriceDebounce,
		"stats_debounce", cfg.StatsDebounce,
		"reload_delay", cfg.ReloadDelay,
		"detail_path_pattern", cfg.DetailPathPattern.String(),
		"enable_tui", cfg.EnableTUI,
		"prometheus_port", cfg.PrometheusPort,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracker := metrics.NewMetricsTracker()

	// Start periodic cleanup
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tracker.Cleanup()
			}
		}
	}()

	// Load the page
	body, err := ingest.FetchPage(ctx, cfg.PageURL)
	if err != nil {
		slog.Error("failed to fetch page", "url", cfg.PageURL, "error", err)
		os.Exit(1)
	}
	doc, err := page.Parse(bytes.NewReader(body), cfg.PageURL)
	if err != nil {
		slog.Error("failed to parse page", "url", cfg.PageURL, "error", err)
		os.Exit(1)
	}

	slog.Info("page_loaded",
		"url", doc.URL(),
		"entities", len(doc.Registry().Entities()),
		"stats_scopes", len(doc.Registry().Scopes()),
	)

	// Broadcast connection
	wsURL, err := ingest.PusherURL(cfg.BroadcastWSURL, cfg.BroadcastAppKey)
	if err != nil {
		slog.Error("invalid broadcast url", "error", err)
		os.Exit(1)
	}
	listener := ingest.NewListener(wsURL, cfg.EventNamespace)
	listener.OnStatus(tracker.SetWebSocketStatus)

	engine, err := newEngine(ctx, cfg, doc, listener, tracker)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	prices := engine.InitPrice()
	stats := engine.InitStats()

	listener.Start(ctx)

	metricsServer := startMetricsServer(cfg.PrometheusPort)

	slog.Info("engine_started",
		"status", "listening for broadcasts",
		"price_channels", prices,
		"stats_channels", stats,
		"tui_enabled", cfg.EnableTUI,
	)

	// Start TUI or run in background mode
	if cfg.EnableTUI {
		slog.Info("starting_tui")
		app := ui.NewApp(tracker, cfg.UIRefreshRate)

		// Start TUI in goroutine so we can still handle signals
		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				cancel()
			}
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-app.Done():
			slog.Info("tui_closed")
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		sig := <-sigChan
		slog.Info("shutdown_signal_received", "signal", sig.String())
	}

	cancel()

	// Graceful shutdown
	slog.Info("shutting_down", "status", "stopping listener")
	listener.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics_server_shutdown_failed", "error", err)
	}

	slog.Info("shutdown_complete", "pending_timers", engine.Pending())
}

// newEngine wires the reconcilers to the page and the broadcast listener.
// A detail page reload refetches the page and re-scans it in place.
func newEngine(ctx context.Context, cfg *config.Config, doc *page.Document,
	listener *ingest.Listener, tracker *metrics.MetricsTracker) (*reconcile.Engine, error) {

	clock := clockwork.NewRealClock()

	var engine *reconcile.Engine
	navigator := reconcile.NavigatorFunc(func() error {
		body, err := ingest.FetchPage(ctx, cfg.PageURL)
		if err != nil {
			return fmt.Errorf("failed to refetch page: %w", err)
		}
		return engine.Reload(bytes.NewReader(body))
	})

	engine, err := reconcile.NewEngine(reconcile.Deps{
		Document:    doc,
		Broadcaster: listener,
		Navigator:   navigator,
		Notifier:    feedback.NewNotices(doc, clock, cfg.NoticeTTL, tracker.RecordNotice),
		Highlighter: feedback.NewHighlighter(doc, clock, cfg.Highlight),
		Clock:       clock,
		Tracker:     tracker,
		Formatter:   format.New(cfg.Locale),
	}, reconcile.Options{
		PriceDebounce:    cfg.PriceDebounce,
		StatsDebounce:    cfg.StatsDebounce,
		ReloadDelay:      cfg.ReloadDelay,
		DetailPath:       cfg.DetailPathPattern,
		ShowStatsNotices: cfg.ShowStatsNotices,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// startMetricsServer serves the Prometheus collectors on /metrics.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics_server_started", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", "error", err)
		}
	}()

	return srv
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
