package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenSweeper removes expired rows from a token table
type TokenSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RevocationSweeper removes revocation entries whose tokens have expired
type RevocationSweeper interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// SuspensionSweeper clears suspensions whose end time has passed. Reads
// already treat a lapsed suspension as cleared; this keeps the admin
// dashboard counts honest without waiting for the account's next request.
type SuspensionSweeper interface {
	ClearLapsedSuspensions(ctx context.Context, before time.Time) (int64, error)
}

// EventSweeper trims the security event log
type EventSweeper interface {
	CleanupOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically removes expired tokens, lapsed suspensions,
// and old security events
type CleanupManager struct {
	verificationTokens TokenSweeper
	resetTokens        TokenSweeper
	revokedTokens      RevocationSweeper
	suspensions        SuspensionSweeper
	events             EventSweeper
	logger             *slog.Logger
	interval           time.Duration
	eventRetention     time.Duration
	stopCh             chan struct{}
}

func NewCleanupManager(
	verificationTokens TokenSweeper,
	resetTokens TokenSweeper,
	revokedTokens RevocationSweeper,
	suspensions SuspensionSweeper,
	events EventSweeper,
	logger *slog.Logger,
	interval time.Duration,
	eventRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		verificationTokens: verificationTokens,
		resetTokens:        resetTokens,
		revokedTokens:      revokedTokens,
		suspensions:        suspensions,
		events:             events,
		logger:             logger,
		interval:           interval,
		eventRetention:     eventRetention,
		stopCh:             make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
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

	now := time.Now().UTC()

	cm.sweep(cleanupCtx, "verification_tokens", func() (int64, error) {
		return cm.verificationTokens.CleanupExpired(cleanupCtx)
	})
	cm.sweep(cleanupCtx, "password_reset_tokens", func() (int64, error) {
		return cm.resetTokens.CleanupExpired(cleanupCtx)
	})
	cm.sweep(cleanupCtx, "revoked_tokens", func() (int64, error) {
		return cm.revokedTokens.CleanupExpiredTokens(cleanupCtx)
	})
	cm.sweep(cleanupCtx, "lapsed_suspensions", func() (int64, error) {
		return cm.suspensions.ClearLapsedSuspensions(cleanupCtx, now)
	})
	cm.sweep(cleanupCtx, "security_events", func() (int64, error) {
		return cm.events.CleanupOlderThan(cleanupCtx, now.Add(-cm.eventRetention))
	})
}

// sweep runs one cleanup. A failure in one sweep never blocks the others.
func (cm *CleanupManager) sweep(ctx context.Context, name string, fn func() (int64, error)) {
	rows, err := fn()
	if err != nil {
		cm.logger.Error("cleanup sweep failed",
			slog.String("sweep", name),
			slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup sweep completed",
			slog.String("sweep", name),
			slog.Int64("rows", rows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
