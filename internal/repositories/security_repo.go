package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenbasket/gatehouse/internal/database"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

// Security record operations. Every read-modify-write here is a single SQL
// statement so concurrent checks against the same account cannot both slip
// past a ceiling or double-reset a stale window.

// attemptColumns maps an operation class to its counter column pair. The
// class is an internal enum, never caller input.
func attemptColumns(op models.OperationClass) (countCol, resetCol string, err error) {
	switch op {
	case models.OpVerification:
		return "verification_attempts", "verification_attempts_reset_at", nil
	case models.OpForgotPassword:
		return "forgot_password_attempts", "forgot_password_attempts_reset_at", nil
	default:
		return "", "", fmt.Errorf("unknown operation class: %s", op)
	}
}

// ConsumeAttempt atomically spends one attempt from the rolling window for
// (user, operation class). A stale window (reset_at older than the window
// length) is zeroed and restarted in the same statement; a full window
// refuses the update entirely. Returns the window state after the statement
// and whether the attempt was admitted.
func (r *UserRepository) ConsumeAttempt(ctx context.Context, userID string, op models.OperationClass, now time.Time, window time.Duration, max int) (*models.AttemptWindow, bool, error) {
	countCol, resetCol, err := attemptColumns(op)
	if err != nil {
		return nil, false, err
	}

	staleCutoff := now.Add(-window)

	query := fmt.Sprintf(`
		UPDATE users
		SET %[1]s = CASE WHEN %[2]s <= $2 THEN 1 ELSE %[1]s + 1 END,
			%[2]s = CASE WHEN %[2]s <= $2 THEN $3 ELSE %[2]s END,
			updated_at = $3
		WHERE id = $1 AND (%[1]s < $4 OR %[2]s <= $2)
		RETURNING %[1]s, %[2]s
	`, countCol, resetCol)

	var win models.AttemptWindow
	err = r.pool.QueryRow(ctx, query, userID, staleCutoff, now, max).Scan(&win.Count, &win.ResetAt)
	if err == nil {
		return &win, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, database.MapPostgresError(err)
	}

	// Ceiling hit (or the user vanished). Read the current window so the
	// caller can report an accurate reset time; a plain SELECT cannot race
	// another increment into over-admission.
	current, err := r.GetAttemptWindow(ctx, userID, op)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// GetAttemptWindow reads the current window state without mutating it.
func (r *UserRepository) GetAttemptWindow(ctx context.Context, userID string, op models.OperationClass) (*models.AttemptWindow, error) {
	countCol, resetCol, err := attemptColumns(op)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s, %s FROM users WHERE id = $1`, countCol, resetCol)

	var win models.AttemptWindow
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&win.Count, &win.ResetAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &win, nil
}

// EscalateSuspicious increments the shared suspicious-activity counter and,
// when the incremented value reaches the threshold, creates the suspension in
// the same statement. Returns the new counter value and the suspension end
// if one was just created.
func (r *UserRepository) EscalateSuspicious(ctx context.Context, userID string, threshold int, until time.Time, reason string, now time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET suspicious_activity_count = suspicious_activity_count + 1,
			suspension_until = CASE WHEN suspicious_activity_count + 1 >= $2 THEN $3 ELSE suspension_until END,
			suspension_reason = CASE WHEN suspicious_activity_count + 1 >= $2 THEN $4 ELSE suspension_reason END,
			status = CASE WHEN suspicious_activity_count + 1 >= $2 THEN 'suspended' ELSE status END,
			updated_at = $5
		WHERE id = $1
		RETURNING suspicious_activity_count, suspension_until
	`

	var count int
	var suspensionUntil *time.Time
	err := r.pool.QueryRow(ctx, query, userID, threshold, until, reason, now).Scan(&count, &suspensionUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	if count >= threshold {
		return count, suspensionUntil, nil
	}
	return count, nil, nil
}

// ClearExpiredSuspension lazily removes a suspension whose end has passed:
// clears the lock and reason, zeroes the suspicious counter, and restores
// status. The guard on suspension_until makes the clear race-safe against a
// concurrent suspension write. Returns true if a suspension was cleared.
func (r *UserRepository) ClearExpiredSuspension(ctx context.Context, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE users
		SET suspension_until = NULL,
			suspension_reason = '',
			suspicious_activity_count = 0,
			status = CASE WHEN status = 'suspended' THEN 'active' ELSE status END,
			updated_at = $2
		WHERE id = $1 AND suspension_until IS NOT NULL AND suspension_until <= $2
	`

	result, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// ResetSecurityCounters applies an administrative reset. Each scope is one
// statement; re-running any of them is a no-op on an already-reset record.
func (r *UserRepository) ResetSecurityCounters(ctx context.Context, userID string, scope models.ResetScope, now time.Time) error {
	var query string

	switch scope {
	case models.ResetScopeVerification:
		query = `
			UPDATE users SET verification_attempts = 0, verification_attempts_reset_at = $2, updated_at = $2
			WHERE id = $1
		`
	case models.ResetScopePassword:
		query = `
			UPDATE users SET forgot_password_attempts = 0, forgot_password_attempts_reset_at = $2, updated_at = $2
			WHERE id = $1
		`
	case models.ResetScopeSuspicious:
		query = `
			UPDATE users
			SET suspicious_activity_count = 0,
				suspension_until = NULL,
				suspension_reason = '',
				status = CASE WHEN status = 'suspended' THEN 'active' ELSE status END,
				updated_at = $2
			WHERE id = $1
		`
	case models.ResetScopeAll:
		query = `
			UPDATE users
			SET verification_attempts = 0,
				verification_attempts_reset_at = $2,
				forgot_password_attempts = 0,
				forgot_password_attempts_reset_at = $2,
				suspicious_activity_count = 0,
				suspension_until = NULL,
				suspension_reason = '',
				status = CASE WHEN status = 'suspended' THEN 'active' ELSE status END,
				updated_at = $2
			WHERE id = $1
		`
	default:
		return models.ErrInvalidResetScope
	}

	result, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearLapsedSuspensions bulk-clears suspensions that expired before the
// given time. Run from the background cleanup task; the per-request lazy
// clear remains the source of truth for correctness.
func (r *UserRepository) ClearLapsedSuspensions(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE users
		SET suspension_until = NULL,
			suspension_reason = '',
			suspicious_activity_count = 0,
			status = CASE WHEN status = 'suspended' THEN 'active' ELSE status END,
			updated_at = NOW()
		WHERE suspension_until IS NOT NULL AND suspension_until <= $1
	`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
