// Package main is the entry point for the polywatch feed engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polywatch/engine/internal/alert"
	"github.com/polywatch/engine/internal/config"
	"github.com/polywatch/engine/internal/detector"
	"github.com/polywatch/engine/internal/enrich"
	"github.com/polywatch/engine/internal/ingest"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/store"
	"github.com/polywatch/engine/internal/ui"
)

const (
	// TradeChannelBuffer is the size of the buffered trade channel
	TradeChannelBuffer = 1000
	// ProfileCleanupInterval is how often stale wallet profiles are evicted
	ProfileCleanupInterval = 5 * time.Minute
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

	slog.Info("polywatch starting", "version", "1.0.0")

	slog.Info("config_loaded",
		"feed_url_endpoint", cfg.FeedURLEndpoint,
		"platform", cfg.Platform,
		"metadata_url", cfg.MetadataURL,
		"max_trades", cfg.MaxTrades,
		"max_whales", cfg.MaxWhales,
		"profile_ttl", cfg.ProfileTTL,
		"tracked_wallets", len(cfg.TrackedWallets),
		"webhook", cfg.MaskedWebhookURL(),
		"enable_tui", cfg.EnableTUI,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Shared state: trade log, wallet profiles, image cache
	tradeChan := make(chan store.Trade, TradeChannelBuffer)
	log := store.NewLog(cfg.MaxTrades, cfg.MaxWhales)
	tracker := detector.NewWalletTracker(cfg.ProfileMaxHistory, cfg.ProfileTTL)
	enricher := enrich.New(cfg.MetadataURL, log)

	// Periodic wallet profile eviction
	go tracker.Run(ctx, ProfileCleanupInterval)

	// Batching queue in front of the canonical log
	queue := ingest.NewQueue(log)
	go queue.Run(ctx)

	// Whale alert dispatch
	notifier := alert.New(cfg.WebhookURL, cfg.AlertBatchWindow, cfg.AlertCooldown)
	go notifier.Run(ctx)

	// Throttled aggregation
	agg := metrics.NewAggregator(log)
	go agg.Run(ctx)

	// Feed session and health monitor
	provider := ingest.NewHTTPURLProvider(cfg.FeedURLEndpoint)
	session := ingest.NewSession(provider, cfg.Platform, tradeChan)
	monitor := ingest.NewHealthMonitor(session)
	session.OnFrame = monitor.CountFrame
	session.OnReconnect = monitor.ResetWindow
	go monitor.Run(ctx)

	if err := session.Connect(ctx); err != nil {
		// Connect-time failures are retryable manually, never auto-looped.
		slog.Error("feed_connect_failed", "error", err)
	}

	// Single ingestion worker: all profile/whale-buffer mutation is
	// serialized here, the canonical log mutates only on the flush tick.
	go ingestWorker(ctx, tradeChan, tracker, log, notifier, enricher, queue)

	tracked := make(map[string]struct{}, len(cfg.TrackedWallets))
	for _, w := range cfg.TrackedWallets {
		tracked[w] = struct{}{}
	}

	detect := func(t store.Trade) []store.Signal {
		p, ok := tracker.Profile(t.Wallet)
		return detector.Detect(t, p, ok)
	}

	slog.Info("engine_started", "status", "listening for trades", "tui_enabled", cfg.EnableTUI)

	if cfg.EnableTUI {
		app := ui.NewApp(log, agg, session, monitor, notifier, detect, tracked,
			cfg.ViewLimit, cfg.UIRefreshRate)

		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
			}
			cancel()
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		// Headless mode: log a heartbeat until signalled
		go headlessLoop(ctx, log, agg, monitor)
		sig := <-sigChan
		slog.Info("shutdown_signal_received", "signal", sig.String())
	}

	cancel()

	slog.Info("shutting_down", "status", "stopping feed session")
	session.Stop()
	drainTrades(tradeChan)

	slog.Info("shutdown_complete")
}

// ingestWorker processes decoded trades: profile update, whale retention
// and alerting, metadata requests, then the batching queue.
func ingestWorker(ctx context.Context, tradeChan <-chan store.Trade,
	tracker *detector.WalletTracker, log *store.Log,
	notifier *alert.Notifier, enricher *enrich.Enricher, queue *ingest.Queue) {

	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-tradeChan:
			if !ok {
				return
			}

			tracker.Record(trade)

			if trade.IsWhale() {
				log.AddWhale(trade)
				notifier.Raise(trade)
			}

			if trade.Image == "" {
				enricher.Request(trade.Slug, trade.ConditionID)
			}

			queue.Enqueue(trade)
		}
	}
}

// headlessLoop reports periodic stats when no TUI is attached.
func headlessLoop(ctx context.Context, log *store.Log, agg *metrics.Aggregator, monitor *ingest.HealthMonitor) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := agg.Stats()
			slog.Info("feed_stats",
				"trades", log.Len(),
				"volume_usd", stats.TotalVolume,
				"whales", stats.WhaleCount,
				"events_per_min", monitor.EventsPerMinute(),
			)
		}
	}
}

// drainTrades empties remaining trades from the channel during shutdown.
func drainTrades(tradeChan <-chan store.Trade) {
	drained := 0
	for {
		select {
		case <-tradeChan:
			drained++
		default:
			if drained > 0 {
				slog.Info("trades_drained", "count", drained)
			}
			return
		}
	}
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
