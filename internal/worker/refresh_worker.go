package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/log"
)

// Pruner drops refresh history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RefreshWorkerConfig holds configuration for the refresh worker
type RefreshWorkerConfig struct {
	// CheckInterval is how often staleness is evaluated (default: 1m)
	CheckInterval time.Duration

	// RefreshTimeout bounds how long a tick waits on a refresh pass (default: 5m)
	RefreshTimeout time.Duration

	// CleanupInterval is how often history is pruned (default: 1h)
	CleanupInterval time.Duration

	// Retention is how long refresh history is kept (default: 30 days)
	Retention time.Duration
}

// DefaultRefreshWorkerConfig returns sensible defaults
func DefaultRefreshWorkerConfig() RefreshWorkerConfig {
	return RefreshWorkerConfig{
		CheckInterval:   time.Minute,
		RefreshTimeout:  5 * time.Minute,
		CleanupInterval: time.Hour,
		Retention:       30 * 24 * time.Hour,
	}
}

// RefreshWorker keeps the snapshot fresh: it refreshes on startup when the
// cache is stale and re-evaluates staleness on every tick.
type RefreshWorker struct {
	engine *cache.Engine
	pruner Pruner
	config RefreshWorkerConfig
	now    func() time.Time
	logger *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefreshWorker creates a worker. pruner may be nil.
func NewRefreshWorker(engine *cache.Engine, pruner Pruner, config RefreshWorkerConfig, logger *log.Logger) *RefreshWorker {
	def := DefaultRefreshWorkerConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = def.RefreshTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &RefreshWorker{
		engine: engine,
		pruner: pruner,
		config: config,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the refresh loop. Returns an error if already running.
// Stopping the worker cancels an in-flight pass, which then publishes
// nothing.
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(loopCtx)

	w.logger.InfoContext(ctx, "Refresh worker started",
		"check_interval", w.config.CheckInterval.String(),
		"max_age", w.engine.Policy().MaxAge.String())
	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh, cancel := w.stopCh, w.doneCh, w.cancel
	w.mu.Unlock()

	close(stopCh)
	cancel()

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Refresh worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Refresh worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *RefreshWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	checkTicker := time.NewTicker(w.config.CheckInterval)
	defer checkTicker.Stop()

	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	w.RefreshIfStale(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			w.RefreshIfStale(ctx)
		case <-cleanupTicker.C:
			w.pruneHistory(ctx)
		}
	}
}

// RefreshIfStale refreshes when the current snapshot is stale: empty, older
// than MaxAge, or incomplete past the retry backoff. It reports whether a
// pass ran.
func (w *RefreshWorker) RefreshIfStale(ctx context.Context) (cache.RefreshResult, bool) {
	snap := w.engine.Store().Current()
	if !w.engine.IsStale(snap, w.now()) {
		w.logger.DebugContext(ctx, "Snapshot is fresh",
			log.FieldVersion, snap.Version,
			log.FieldAgeSeconds, int64(snap.Age(w.now())/time.Second))
		return cache.RefreshResult{}, false
	}
	if snap.Populated() {
		w.logger.InfoContext(ctx, "Snapshot is stale, refreshing",
			log.FieldVersion, snap.Version,
			log.FieldComplete, snap.Complete,
			log.FieldAgeSeconds, int64(snap.Age(w.now())/time.Second))
	} else {
		w.logger.InfoContext(ctx, "Cache is empty, loading from ledger")
	}
	return w.refresh(ctx), true
}

// ForceRefresh runs a pass regardless of staleness.
func (w *RefreshWorker) ForceRefresh(ctx context.Context) cache.RefreshResult {
	w.logger.InfoContext(ctx, "Force refreshing snapshot")
	return w.refresh(ctx)
}

func (w *RefreshWorker) refresh(ctx context.Context) cache.RefreshResult {
	ctx, cancel := context.WithTimeout(ctx, w.config.RefreshTimeout)
	defer cancel()
	return w.engine.Refresh(ctx)
}

func (w *RefreshWorker) pruneHistory(ctx context.Context) {
	if w.pruner == nil {
		return
	}
	cutoff := w.now().Add(-w.config.Retention)
	n, err := w.pruner.Prune(ctx, cutoff)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to prune refresh history", log.FieldError, err.Error())
		return
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Pruned refresh history", "removed", n, "before", cutoff.Format(time.RFC3339))
	}
}
