package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"matti/backend/internal/config"
	"matti/backend/internal/db"
	"matti/backend/internal/followup"
	"matti/backend/internal/logging"
	"matti/backend/internal/metrics"
	"matti/backend/internal/notify"
	"matti/backend/internal/server"
)

type options struct {
	Once      bool          `long:"once" description:"Dispatch one batch of due follow-ups and exit"`
	Interval  time.Duration `long:"interval" description:"Polling interval (defaults to FOLLOWUP_POLL_SECONDS)"`
	BatchSize int           `long:"batch-size" description:"Maximum follow-ups per poll (defaults to FOLLOWUP_BATCH_SIZE)"`
	Migrate   bool          `long:"migrate" description:"Create missing tables before dispatching"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, os.Stderr)
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid config", "err", err)
	}
	interval := cfg.FollowUpPollInterval()
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	batchSize := cfg.FollowUpBatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connect failed", "err", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", "err", err)
	}
	if opts.Migrate || cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("schema setup failed", "err", err)
		}
	}
	if err := server.ValidateRuntimeSchema(ctx, pool); err != nil {
		logger.Fatal("database schema mismatch", "err", err)
	}

	notifier, closeNotifier, err := notify.New(notify.Options{
		Mode:         cfg.NotifyMode,
		WebhookURL:   cfg.NotifyWebhookURL,
		WebhookToken: cfg.NotifyWebhookToken,
		RedisURL:     cfg.RedisURL,
		Stream:       cfg.NotifyStream,
		StreamMaxLen: int64(cfg.NotifyStreamMaxLen),
		Timeout:      cfg.NotifyTimeout(),
	}, logger)
	if err != nil {
		logger.Fatal("notifier setup failed", "mode", cfg.NotifyMode, "err", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("notifier close failed", "err", err)
		}
	}()

	dispatcher := followup.NewDispatcher(followup.NewPGStore(pool), notifier, logger, followup.DispatcherConfig{
		BatchSize: batchSize,
		Metrics:   metrics.New(),
	})

	if opts.Once {
		report, err := dispatcher.RunOnce(ctx)
		logger.Info("dispatch finished", "due", report.Due, "sent", report.Sent, "failed", report.Failed, "conflicts", report.Conflicts)
		if err != nil {
			logger.Fatal("dispatch failed", "err", err)
		}
		return
	}

	logger.Info("follow-up worker started", "interval", interval, "batch_size", batchSize, "notify", cfg.NotifyMode)
	if err := dispatcher.Run(ctx, interval); err != nil {
		logger.Fatal("dispatcher stopped", "err", err)
	}
	logger.Info("follow-up worker stopped")
}
