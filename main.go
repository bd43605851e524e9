// Package main runs the feedlens service: it observes a feed surface,
// extracts and scores posts, and ships them to a remote collector.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"feedlens/archive"
	"feedlens/config"
	"feedlens/dedup"
	"feedlens/deliver"
	"feedlens/display"
	"feedlens/extract"
	"feedlens/notify"
	"feedlens/observe"
	"feedlens/pipeline"
	"feedlens/pkg/feed"
	"feedlens/score"
	"feedlens/selectors"
	"feedlens/server"
	"feedlens/storage"
	"feedlens/surface"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	platform := feed.Platform(cfg.Platform)

	store, err := storage.New(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Error("Failed to open storage", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	registry := selectors.NewRegistry()
	for plat, fields := range cfg.Selectors {
		for field, queries := range fields {
			registry.Override(feed.Platform(plat), selectors.Field(field), queries)
		}
	}

	ark := buildArchive(ctx, cfg, logger)
	if ark != nil {
		defer func() {
			if err := ark.Close(); err != nil {
				logger.Warn("Failed to close archive", "error", err)
			}
		}()
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	conn, err := deliver.NewConnectionManager(ctx, httpClient, cfg.Collector.Endpoints, store, logger)
	if err != nil {
		logger.Error("Failed to create connection manager", "error", err)
		os.Exit(1)
	}

	delivery := deliver.New(&deliver.Config{
		Connection: conn,
		Client:     httpClient,
		Store:      store,
		Archiver:   archiverOrNil(ark),
		Notifier:   buildNotifier(cfg, logger),
		Logger:     logger,
		APIKey:     cfg.Collector.APIKey,
	})

	ledger := dedup.NewLedger(cfg.Dedup.Retention, cfg.Dedup.MaxSize, store, logger)
	extractor := extract.New(registry, extract.Options{
		FriendAuthors: foldSet(cfg.FriendAuthors),
		FamilyAuthors: foldSet(cfg.FamilyAuthors),
	}, logger)
	scorer := score.New(nil, logger)
	displayer := display.New(display.Options{
		Keywords:            cfg.Display.Keywords,
		DimOpacity:          cfg.Display.DimOpacity,
		HighEngagementFloor: cfg.Display.HighEngagementFloor,
	}, logger)

	if cfg.FeedURL == "" {
		logger.Error("No feed URL configured, set FEEDLENS_FEED_URL or feed_url")
		os.Exit(1)
	}
	watch := "body"
	if queries := registry.Queries(platform, selectors.FieldContainer); len(queries) > 0 {
		watch = queries[0]
	}
	surf := surface.NewPolling(httpClient, cfg.FeedURL, watch, cfg.PollInterval, logger)

	runner := pipeline.New(pipeline.Config{
		Surface:   surf,
		Selectors: registry,
		Extractor: extractor,
		Ledger:    ledger,
		Scorer:    scorer,
		Delivery:  delivery,
		Display:   displayer,
		Mode:      display.Mode(cfg.Display.Mode),
		Logger:    logger,
	})

	observer := observe.New(observe.Config{
		Platform:  platform,
		Surface:   surf,
		Selectors: registry,
		Collector: runner,
		Logger:    logger,
	})

	go func() {
		if err := surf.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Surface polling stopped", "error", err)
		}
	}()
	go func() {
		if err := observer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Observer stopped", "error", err)
		}
	}()
	go delivery.FlushLoop(ctx, cfg.FlushInterval)
	go ledgerCleanupLoop(ctx, ledger)

	srv := server.New(&server.Config{
		Observer: observer,
		Resender: delivery,
		Stats:    delivery,
		Modes:    runner,
		Logger:   logger,
	})

	logger.Info("Starting feedlens",
		"platform", platform,
		"feed_url", cfg.FeedURL,
		"endpoints", len(cfg.Collector.Endpoints),
		"mode", cfg.Display.Mode)

	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// buildArchive prefers the Cloud Storage bucket, falls back to a local
// directory, and returns nil when neither is configured.
func buildArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) *archive.Archive {
	if cfg.Storage.ArchiveBucket != "" {
		ark, err := archive.New(ctx, cfg.Storage.ArchiveBucket, logger)
		if err != nil {
			logger.Error("Failed to create archive client", "bucket", cfg.Storage.ArchiveBucket, "error", err)
			os.Exit(1)
		}
		return ark
	}
	if cfg.Storage.ArchiveDir != "" {
		ark, err := archive.NewLocal(cfg.Storage.ArchiveDir, logger)
		if err != nil {
			logger.Error("Failed to create local archive", "dir", cfg.Storage.ArchiveDir, "error", err)
			os.Exit(1)
		}
		logger.Info("Archiving batches to local directory", "dir", cfg.Storage.ArchiveDir)
		return ark
	}
	logger.Info("No archive configured, batches will not be archived")
	return nil
}

// archiverOrNil avoids handing the pipeline a typed-nil interface value.
func archiverOrNil(ark *archive.Archive) deliver.Archiver {
	if ark == nil {
		return nil
	}
	return ark
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) deliver.Notifier {
	if cfg.Notify.WebhookURL != "" {
		logger.Info("Webhook notifications enabled", "url", cfg.Notify.WebhookURL)
		return notify.NewWebhook(cfg.Notify.WebhookURL, logger)
	}
	return &notify.LogNotifier{Logger: logger}
}

func ledgerCleanupLoop(ctx context.Context, ledger *dedup.Ledger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ledger.Cleanup(ctx, time.Now())
		}
	}
}

func foldSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return set
}
