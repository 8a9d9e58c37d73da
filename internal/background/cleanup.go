package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenCleaner deletes refresh-token rows that can never be used again.
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically prunes dead refresh-token rows. Deletion is
// housekeeping only: expiry and revocation are enforced on every read, so a
// delayed or failed sweep never extends a token's life.
type CleanupManager struct {
	tokens   TokenCleaner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewCleanupManager(tokens TokenCleaner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends. One
// sweep runs immediately on startup.
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

	rowsDeleted, err := cm.tokens.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clean up refresh tokens", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("refresh token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the sweep loop to exit.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
