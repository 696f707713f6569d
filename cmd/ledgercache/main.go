package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledgercache/internal/amqp"
	"ledgercache/internal/cache"
	"ledgercache/internal/cli"
	apphttp "ledgercache/internal/http"
	"ledgercache/internal/log"
	"ledgercache/internal/storage"
	"ledgercache/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	logger.Info("Starting ledgercache",
		log.FieldBackend, cfg.LedgerBackend,
		"port", cfg.Port,
		"max_age", cfg.CacheMaxAge.String())

	engine, closeEngine, err := cli.BuildEngine(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger backend", log.FieldError, err.Error())
		os.Exit(1)
	}

	// Refresh history (optional)
	var history *storage.HistoryRepository
	var historyLister apphttp.HistoryLister
	var pruner worker.Pruner
	if cfg.HistoryEnabled {
		history, err = storage.NewHistoryRepository(cfg.HistoryDBPath, logger)
		if err != nil {
			logger.Error("Failed to initialize refresh history", log.FieldError, err.Error(), "path", cfg.HistoryDBPath)
			os.Exit(1)
		}
		engine.AddObserver(history)
		historyLister = history
		pruner = history
	} else {
		logger.Info("Refresh history disabled")
	}

	// AMQP (optional): publishes refresh events, consumes refresh requests
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without messaging", log.FieldError, err.Error())
			amqpClient = nil
		} else {
			engine.AddObserver(amqpClient)
		}
	} else {
		logger.Info("AMQP disabled")
	}

	refreshWorker := worker.NewRefreshWorker(engine, pruner, worker.RefreshWorkerConfig{
		CheckInterval:   cfg.RefreshInterval,
		RefreshTimeout:  cfg.RefreshTimeout,
		CleanupInterval: time.Hour,
		Retention:       cfg.HistoryRetention,
	}, logger)

	server := apphttp.NewServer(cache.NewAccessor(engine), apphttp.Options{
		Addr:             ":" + cfg.Port,
		History:          historyLister,
		RefreshRateLimit: cfg.RefreshRateLimit,
		TrustedProxies:   cfg.TrustedProxies,
		Logger:           logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown failed", log.FieldError, err.Error())
		}
		if err := refreshWorker.Stop(ctx); err != nil {
			logger.Error("Refresh worker shutdown failed", log.FieldError, err.Error())
		}
		closeEngine()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close failed", log.FieldError, err.Error())
			}
		}
		if history != nil {
			if err := history.Close(); err != nil {
				logger.Warn("History close failed", log.FieldError, err.Error())
			}
		}
	})

	if err := refreshWorker.Start(ctx); err != nil {
		logger.Error("Failed to start refresh worker", log.FieldError, err.Error())
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeRefreshRequests(ctx, func(ctx context.Context, msg *amqp.RefreshRequestMessage) error {
				logger.InfoContext(ctx, "Refresh requested", "reason", msg.Reason, "force", msg.Force)
				var res cache.RefreshResult
				if msg.Force {
					res = refreshWorker.ForceRefresh(ctx)
				} else if r, ran := refreshWorker.RefreshIfStale(ctx); ran {
					res = r
				} else {
					return nil
				}
				if !res.Published {
					return res.Err()
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Refresh request consumer stopped", log.FieldError, err.Error())
			}
		}()
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", log.FieldError, err.Error())
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
