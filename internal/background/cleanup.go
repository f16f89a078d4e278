package background

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes expired entries from one store and reports how many it removed
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// PrunerFunc adapts a function to the Pruner interface
type PrunerFunc func(ctx context.Context) (int64, error)

func (f PrunerFunc) Prune(ctx context.Context) (int64, error) {
	return f(ctx)
}

// CleanupManager periodically sweeps expired attempt records, verification
// codes and revoked tokens
type CleanupManager struct {
	pruners  map[string]Pruner
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		pruners:  make(map[string]Pruner),
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a store to the sweep. It must be called before Start.
func (cm *CleanupManager) Register(name string, p Pruner) *CleanupManager {
	cm.pruners[name] = p
	return cm
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce sweeps every registered store. A failing store does not stop the
// others.
func (cm *CleanupManager) RunOnce(ctx context.Context) map[string]int64 {
	removed := make(map[string]int64, len(cm.pruners))

	for name, p := range cm.pruners {
		pruneCtx, cancel := context.WithTimeout(ctx, cm.timeout)
		n, err := p.Prune(pruneCtx)
		cancel()

		if err != nil {
			cm.logger.Error("cleanup failed", slog.String("store", name), slog.Any("error", err))
			continue
		}
		removed[name] = n
		if n > 0 {
			cm.logger.Info("cleanup completed", slog.String("store", name), slog.Int64("removed", n))
		}
	}

	return removed
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
