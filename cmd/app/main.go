package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgerbot/internal/cache"
	"ledgerbot/internal/config"
	"ledgerbot/internal/handlers"
	"ledgerbot/internal/httpserver"
	"ledgerbot/internal/llm"
	"ledgerbot/internal/logging"
	"ledgerbot/internal/lunch"
	"ledgerbot/internal/metrics"
	"ledgerbot/internal/poller"
	"ledgerbot/internal/repo"
	"ledgerbot/internal/tg"
	"ledgerbot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting ledgerbot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	if cfg.DatabaseURL != "" {
		store, err = repo.NewPostgres(ctx, cfg.DatabaseURL, logger)
	} else {
		store, err = repo.NewSQLite(ctx, cfg.DBPath, logger)
	}
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	lunchFactory := lunch.NewFactory(lunch.Config{
		BaseURL: cfg.LunchBaseURL,
		Timeout: cfg.LunchTimeout,
	}, logger, metricRegistry, redisClient)

	var categorizer handlers.Categorizer
	if cfg.DeepInfraAPIKey != "" {
		categorizer = llm.New(llm.Config{
			APIKey:  cfg.DeepInfraAPIKey,
			Model:   cfg.DeepInfraModel,
			Timeout: cfg.DeepInfraTimeout,
		}, logger, metricRegistry)
	} else {
		logger.Info("DEEPINFRA_API_KEY not set, ai categorization disabled")
	}

	tgClient, err := tg.New(tg.Config{
		BotToken: cfg.TelegramBotToken,
		Timeout:  cfg.TelegramTimeout,
		Metrics:  metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}

	pollEngine := poller.New(poller.Config{
		Store:     store,
		ClientFor: func(token string) poller.Ledger { return lunchFactory.ClientFor(token) },
		Messenger: tgClient,
		Logger:    logger,
		Metrics:   metricRegistry,
	})

	handler := handlers.New(handlers.Config{
		Store:     store,
		ClientFor: func(token string) handlers.Ledger { return lunchFactory.ClientFor(token) },
		Transport: tgClient,
		Poller:    pollEngine,
		LLM:       categorizer,
		Logger:    logger,
		Metrics:   metricRegistry,
	})
	tgClient.SetUpdateProcessor(handler)

	scheduler := poller.NewScheduler(pollEngine, store, logger, cfg.SchedulerInterval)

	tgCtx, tgCancel := context.WithCancel(ctx)
	defer tgCancel()
	go func() {
		if err := tgClient.Start(tgCtx); err != nil && tgCtx.Err() == nil {
			logger.Error("telegram client stopped", "error", err)
			stop()
		}
	}()
	go func() {
		if err := scheduler.Run(tgCtx); err != nil && tgCtx.Err() == nil {
			logger.Error("scheduler stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, cfg.HTTPBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Store:  store,
		Poller: pollEngine,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
