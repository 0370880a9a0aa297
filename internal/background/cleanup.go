package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionSweeper deletes expired pending login sessions
type SessionSweeper interface {
	SweepExpired(ctx context.Context) int64
}

// CleanupManager periodically removes expired pending login sessions.
// Expired sessions are already unusable; this only reclaims storage.
type CleanupManager struct {
	sweeper  SessionSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper SessionSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep immediately and then on every tick until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if deleted := cm.sweeper.SweepExpired(cleanupCtx); deleted > 0 {
		cm.logger.Info("expired pending sessions removed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop; safe to call more than once
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
