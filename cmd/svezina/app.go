package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/svezina/internal/account"
	"github.com/erazemk/svezina/internal/alert"
	"github.com/erazemk/svezina/internal/clock"
	"github.com/erazemk/svezina/internal/config"
	"github.com/erazemk/svezina/internal/db"
	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/notify"
	"github.com/erazemk/svezina/internal/store"
	"github.com/erazemk/svezina/internal/tracker"
	"github.com/erazemk/svezina/internal/vault"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *redis.Client
	queue    *jobs.Queue
	runner   *jobs.Runner
	alerts   *alert.Scheduler
	tracker  *tracker.Service
	accounts *account.Service
}

// openApp opens the database and wires every service on top of it.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	a := &app{cfg: cfg, db: database}

	accounts, err := account.New(database, vault.New(vault.WithIterations(cfg.Vault.Iterations)), logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.accounts = accounts

	sink := a.buildSink(ctx, logger)

	c := clock.System{}
	a.queue = jobs.NewQueue(database, c, logger)
	a.alerts = alert.New(a.queue, sink, store.Items{DB: database}, c, alert.Options{
		DateLayout: cfg.DateLayout,
		Location:   loc,
		Logger:     logger,
	})
	a.runner = jobs.NewRunner(a.queue, a.alerts.Execute, jobs.RunnerOptions{
		Interval:    cfg.Jobs.PollInterval,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff:     cfg.Jobs.Backoff,
		Logger:      logger,
	})
	a.tracker = tracker.New(database, a.alerts, c, tracker.Options{
		DateLayout: cfg.DateLayout,
		Location:   loc,
		Logger:     logger,
	})

	return a, nil
}

// buildSink assembles the notification fan-out. The webhook and the Redis
// dedupe layer are only added when configured.
func (a *app) buildSink(ctx context.Context, logger *slog.Logger) notify.Sink {
	sinks := notify.Multi{
		notify.Log{Logger: logger},
		notify.Inbox{DB: a.db, Logger: logger},
	}
	if a.cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhook(a.cfg.Webhook.URL, notify.WebhookOptions{
			RetryMax: a.cfg.Webhook.RetryMax,
			Timeout:  a.cfg.Webhook.Timeout,
			Logger:   logger,
		}))
		slog.Info("webhook notifications enabled")
	}

	if a.cfg.Redis.Addr == "" {
		return sinks
	}
	client, err := notify.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		slog.Warn("redis unavailable, notification dedupe disabled", "addr", a.cfg.Redis.Addr, "error", err)
		return sinks
	}
	a.redis = client
	slog.Info("notification dedupe enabled", "addr", a.cfg.Redis.Addr)
	return notify.NewDedupe(client, sinks, a.cfg.Redis.TTL, logger)
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}
