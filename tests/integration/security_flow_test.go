package integration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbasket/gatehouse/internal/config"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/repositories"
	"github.com/greenbasket/gatehouse/internal/services"
	pkglogger "github.com/greenbasket/gatehouse/pkg/logger"
)

func setupSuite(t *testing.T) (*repositories.UserRepository, *repositories.SecurityEventRepository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testDB.Teardown(context.Background())
	})

	return repositories.NewUserRepository(testDB.DB), repositories.NewSecurityEventRepository(testDB.DB)
}

func newSecurityService(userRepo *repositories.UserRepository, eventRepo *repositories.SecurityEventRepository) *services.SecurityService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.SecurityConfig{
		MaxDailyAttempts:    5,
		AttemptWindow:       24 * time.Hour,
		SuspiciousThreshold: 3,
		SuspensionDuration:  1 * time.Hour,
	}
	return services.NewSecurityService(userRepo, eventRepo, policy, pkglogger.NewAuditLogger(log), log)
}

// Concurrent requests against one account must never admit more than the
// ceiling. The increment is a single conditional UPDATE, so races collapse
// into ordinary row-lock serialization.
func TestConsumeAttemptConcurrency(t *testing.T) {
	userRepo, _ := setupSuite(t)
	ctx := context.Background()

	user, err := CreateTestUser(ctx, userRepo, "hammer@example.com", "Rutabaga!2024")
	require.NoError(t, err)

	const workers = 20
	const max = 5
	now := time.Now().UTC()

	var wg sync.WaitGroup
	admittedCh := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, admitted, err := userRepo.ConsumeAttempt(ctx, user.ID, models.OpForgotPassword, now, 24*time.Hour, max)
			assert.NoError(t, err)
			admittedCh <- admitted
		}()
	}
	wg.Wait()
	close(admittedCh)

	admitted := 0
	for ok := range admittedCh {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, max, admitted, "exactly the ceiling must be admitted under contention")

	win, err := userRepo.GetAttemptWindow(ctx, user.ID, models.OpForgotPassword)
	require.NoError(t, err)
	assert.Equal(t, max, win.Count, "count must not overshoot the ceiling")
}

// Escalations from concurrent denials must produce exactly one suspension
// once the threshold is crossed.
func TestEscalationConcurrency(t *testing.T) {
	userRepo, _ := setupSuite(t)
	ctx := context.Background()

	user, err := CreateTestUser(ctx, userRepo, "escalate@example.com", "Rutabaga!2024")
	require.NoError(t, err)

	const workers = 10
	const threshold = 3
	now := time.Now().UTC()
	until := now.Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := userRepo.EscalateSuspicious(ctx, user.ID, threshold, until, "temporarily suspended after repeated suspicious activity", now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	fresh, err := userRepo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, fresh.SuspiciousActivityCount)
	require.NotNil(t, fresh.SuspensionUntil)
	assert.WithinDuration(t, until, *fresh.SuspensionUntil, time.Second)
}

// Full ladder through the service: five admitted requests, a denial, more
// denials until suspension, then an admin reset lifting everything.
func TestSecurityLadderEndToEnd(t *testing.T) {
	userRepo, eventRepo := setupSuite(t)
	ctx := context.Background()
	svc := newSecurityService(userRepo, eventRepo)

	user, err := CreateTestUser(ctx, userRepo, "ladder@example.com", "Rutabaga!2024")
	require.NoError(t, err)

	// Five requests go through, with the remaining count descending
	for i := 0; i < 5; i++ {
		decision, err := svc.CheckForgotPasswordLimits(ctx, user.Email, "203.0.113.5")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, decision.AttemptsRemaining)
	}

	// The sixth is denied and starts the suspicious ladder
	decision, err := svc.CheckForgotPasswordLimits(ctx, user.Email, "203.0.113.5")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonDailyLimitExceeded, decision.Reason)
	require.NotNil(t, decision.ResetTime)

	// Two more over-ceiling denials cross the threshold of three
	_, err = svc.CheckForgotPasswordLimits(ctx, user.Email, "203.0.113.5")
	require.NoError(t, err)
	decision, err = svc.CheckForgotPasswordLimits(ctx, user.Email, "203.0.113.5")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonSuspended, decision.Reason)
	require.NotNil(t, decision.SuspensionEnd)

	// The other operation class is now blocked by the suspension too
	decision, err = svc.CheckVerificationEmailLimits(ctx, user.Email, "203.0.113.5")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonSuspended, decision.Reason)

	// Admin reset clears counters and lifts the suspension
	require.NoError(t, svc.ResetAttempts(ctx, user.ID, models.ResetScopeAll, "admin-1"))

	decision, err = svc.CheckForgotPasswordLimits(ctx, user.Email, "203.0.113.5")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.AttemptsRemaining)

	status, err := svc.GetSecurityStatus(ctx, user.Email)
	require.NoError(t, err)
	assert.False(t, status.Suspended)
	assert.Equal(t, 0, status.SuspiciousActivityCount)
}

// Unknown emails leave no account state behind, only an event row
func TestUnknownEmailProbeRecordsEvent(t *testing.T) {
	userRepo, eventRepo := setupSuite(t)
	ctx := context.Background()
	svc := newSecurityService(userRepo, eventRepo)

	decision, err := svc.CheckVerificationEmailLimits(ctx, "nobody@example.com", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonUserNotFound, decision.Reason)

	count, err := eventRepo.CountTodayByEventType(ctx, models.SecurityEventUnknownEmailProbe)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
