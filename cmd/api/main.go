package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"matti/backend/internal/analysis"
	"matti/backend/internal/analytics"
	"matti/backend/internal/config"
	"matti/backend/internal/db"
	"matti/backend/internal/followup"
	"matti/backend/internal/keywords"
	"matti/backend/internal/logging"
	"matti/backend/internal/metrics"
	"matti/backend/internal/notify"
	"matti/backend/internal/pipeline"
	"matti/backend/internal/server"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "err", err)
	}
	if cfg.AppEnv != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	tables, err := loadKeywords(cfg.KeywordsPath)
	if err != nil {
		logger.Fatal("keyword tables failed to load", "err", err)
	}
	analyzer, err := analysis.New(tables)
	if err != nil {
		logger.Fatal("keyword tables rejected", "err", err)
	}
	logger.Info("keyword tables loaded", "version", analyzer.Version())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store setup failed", "driver", cfg.StoreDriver, "err", err)
	}
	defer closeStore()

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

	m := metrics.New()
	var sender analytics.Sender
	if cfg.AnalyticsEndpoint != "" {
		sender = analytics.NewClient(cfg.AnalyticsEndpoint, cfg.AnalyticsAPIKey, cfg.AnalyticsTimeout())
	} else {
		logger.Info("analytics disabled: ANALYTICS_ENDPOINT is not set")
	}
	publisher := analytics.NewPublisher(sender, logger, m)

	scheduler := followup.NewScheduler(store, logger,
		followup.WithNotifier(notifier),
		followup.WithMetrics(m),
	)
	p := pipeline.New(analyzer, logger, pipeline.Config{
		Scheduler: scheduler,
		Notifier:  notifier,
		Analytics: publisher,
		Metrics:   m,
	})

	// An in-memory store is invisible to the worker binary, so the API
	// dispatches its own check-ins.
	if cfg.StoreDriver == config.StoreMemory {
		dispatcher := followup.NewDispatcher(store, notifier, logger, followup.DispatcherConfig{
			BatchSize: cfg.FollowUpBatchSize,
			Metrics:   m,
		})
		go func() {
			if err := dispatcher.Run(ctx, cfg.FollowUpPollInterval()); err != nil {
				logger.Error("in-process dispatcher stopped", "err", err)
			}
		}()
	}

	app := server.New(cfg, server.Deps{
		Analyzer:  analyzer,
		Scheduler: scheduler,
		Pipeline:  p,
		Analytics: publisher,
		Metrics:   m,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("matti api listening", "addr", "http://localhost:"+cfg.AppPort, "store", cfg.StoreDriver, "notify", cfg.NotifyMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func loadKeywords(path string) (*keywords.Tables, error) {
	if path == "" {
		return keywords.Default()
	}
	return keywords.Load(path)
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (followup.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory store; actions and follow-ups are lost on restart")
		return followup.NewMemoryStore(), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database schema ensured")
	}
	if err := server.ValidateRuntimeSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return followup.NewPGStore(pool), pool.Close, nil
}
