package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/catalogsync"
	"github.com/ahmethakanbesel/pricewatch/internal/config"
	"github.com/ahmethakanbesel/pricewatch/internal/job"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
	"github.com/ahmethakanbesel/pricewatch/internal/notify"
	"github.com/ahmethakanbesel/pricewatch/internal/platform/sqlite"
	"github.com/ahmethakanbesel/pricewatch/internal/refresh"
	catalogrepo "github.com/ahmethakanbesel/pricewatch/internal/repository/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
	"github.com/ahmethakanbesel/pricewatch/internal/server"
	"github.com/ahmethakanbesel/pricewatch/internal/vtex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	// Root context: cancelled on SIGINT/SIGTERM so running sync passes stop
	// between terms.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	repo := catalogrepo.NewRepository(db.DB)
	registry := scraper.NewRegistry(cfg.Merchants...)
	m := metrics.New()

	client, err := vtex.New(cfg.VTEX.QueryHash,
		vtex.WithTimeout(cfg.VTEX.QueryTimeout),
		vtex.WithLocale(cfg.VTEX.Locale),
	)
	if err != nil {
		slog.Error("failed to create vtex client", "error", err)
		os.Exit(1)
	}
	normalizer := vtex.NewNormalizer(cfg.Sync.ExcludedBrands)

	engine := catalogsync.New(client, normalizer, repo,
		catalogsync.WithProductCodes(cfg.Sync.ProductCodes),
		catalogsync.WithTermDelay(cfg.Sync.TermDelay),
		catalogsync.WithMetrics(m),
	)
	scheduler := refresh.New(client, normalizer, repo, registry,
		refresh.WithBatchSize(cfg.Refresh.BatchSize),
		refresh.WithGroupSize(cfg.Refresh.GroupSize),
		refresh.WithGroupDelay(cfg.Refresh.GroupDelay),
		refresh.WithEpsilon(cfg.Refresh.Epsilon),
		refresh.WithMetrics(m),
	)

	// Notifications
	httpClient := &http.Client{Timeout: cfg.Notify.Timeout}
	var notifiers []notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, httpClient))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.SlackWebhookURL, httpClient, registry))
	}
	dispatcher := notify.NewDispatcher(notifiers, notify.WithTimeout(cfg.Notify.Timeout), notify.WithMetrics(m))

	// Jobs
	manager := job.NewManager()
	executor := job.NewExecutor(manager, registry, engine, scheduler,
		job.WithEvents(dispatcher),
		job.WithMetrics(m),
	)

	pool := job.NewWorkerPool(manager, executor, cfg.Workers)
	executor.SetNotify(pool.Notify)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(rootCtx)
		close(poolDone)
	}()
	manager.StartCleanup(rootCtx, cfg.Jobs.CleanupInterval, cfg.Jobs.Retention)

	srv := server.New(rootCtx, cfg.Port, server.Deps{
		Executor: executor,
		Jobs:     job.NewService(manager),
		Catalog:  catalog.NewService(repo),
		Registry: registry,
		Metrics:  m.Handler(),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port, "merchants", len(cfg.Merchants),
		"workers", cfg.Workers, "notifiers", len(notifiers))
	<-done

	rootCancel()

	// Running jobs finish as failed (cancelled) and emit their completed
	// event before the pool returns.
	<-poolDone
	manager.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	dispatcher.Wait()
	slog.Info("server stopped")
}

func setupLogger(c config.Log) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if c.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
