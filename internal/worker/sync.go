package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzzle-records/internal/config"
)

// Reconciler rebuilds the ranked cache from the ledger
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// SyncWorker periodically rebuilds every ranked board from the ledger, so
// cache writes lost after a ledger commit are eventually repaired.
type SyncWorker struct {
	reconciler Reconciler
	config     *config.SyncConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(reconciler Reconciler, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		reconciler: reconciler,
		config:     cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background sync process. With warm_on_start the first
// cycle runs immediately.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval, "warm_on_start", w.config.WarmOnStart)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	if w.config.WarmOnStart {
		w.syncAll(ctx)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll rebuilds all boards from the ledger
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	synced, err := w.reconciler.ReconcileAll(ctx)
	if err != nil {
		w.logger.Error("sync cycle finished with errors",
			"duration", time.Since(startTime),
			"synced", synced,
			"error", err,
		)
		return
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", synced,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
