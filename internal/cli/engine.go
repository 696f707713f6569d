package cli

import (
	"context"
	"fmt"

	"ledgercache/internal/backend"
	"ledgercache/internal/cache"
	"ledgercache/internal/config"
	"ledgercache/internal/log"
)

// CachePolicy maps the cache settings of cfg onto engine options.
func CachePolicy(cfg *config.Config, logger *log.Logger) cache.Options {
	return cache.Options{
		Policy: cache.Policy{
			MaxAge:       cfg.CacheMaxAge,
			RetryBackoff: cfg.CacheRetryBackoff,
		},
		TransactionMonths: cfg.CacheTransactionMonths,
		BudgetMonths:      cfg.CacheBudgetMonths,
		BudgetConcurrency: cfg.ActualMaxConcurrency,
		PassTimeout:       cfg.RefreshTimeout,
		Logger:            logger,
	}
}

// BuildEngine creates the configured ledger backend and a refresh engine
// reading from it. The returned cleanup closes both.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*cache.Engine, func(), error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("backend config: %w", err)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}
	logger.Info("Ledger backend ready", log.FieldBackend, bcfg.Type.String())

	engine := cache.NewEngine(res.Reader, cache.NewStore(), CachePolicy(cfg, logger))
	cleanup := func() {
		engine.Close()
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Warn("Backend cleanup failed", log.FieldError, err.Error())
			}
		}
	}
	return engine, cleanup, nil
}
