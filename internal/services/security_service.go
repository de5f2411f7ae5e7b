package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenbasket/gatehouse/internal/config"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/pkg/logger"
)

// SecurityUserStore is the account store surface the security façade needs.
// Every mutation is a single atomic statement in the implementation.
type SecurityUserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	ConsumeAttempt(ctx context.Context, userID string, op models.OperationClass, now time.Time, window time.Duration, max int) (*models.AttemptWindow, bool, error)
	EscalateSuspicious(ctx context.Context, userID string, threshold int, until time.Time, reason string, now time.Time) (int, *time.Time, error)
	ClearExpiredSuspension(ctx context.Context, userID string, now time.Time) (bool, error)
	ResetSecurityCounters(ctx context.Context, userID string, scope models.ResetScope, now time.Time) error
}

// SecurityEventStore records the security audit trail
type SecurityEventStore interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
}

const suspensionReasonSuspicious = "temporarily suspended after repeated suspicious activity"

// SecurityService is the single decision point for account abuse prevention.
// Handlers translate its decisions into responses and never re-derive policy,
// so account-existence handling cannot fork across routes.
type SecurityService struct {
	users  SecurityUserStore
	events SecurityEventStore
	policy config.SecurityConfig
	audit  *logger.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

func NewSecurityService(users SecurityUserStore, events SecurityEventStore, policy config.SecurityConfig, audit *logger.AuditLogger, log *slog.Logger) *SecurityService {
	return &SecurityService{
		users:  users,
		events: events,
		policy: policy,
		audit:  audit,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests use this to move through
// attempt windows without sleeping.
func (s *SecurityService) WithClock(now func() time.Time) *SecurityService {
	s.now = now
	return s
}

// CheckVerificationEmailLimits gates resend-verification requests
func (s *SecurityService) CheckVerificationEmailLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error) {
	return s.checkOperation(ctx, email, clientIP, models.OpVerification)
}

// CheckForgotPasswordLimits gates forgot-password requests
func (s *SecurityService) CheckForgotPasswordLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error) {
	return s.checkOperation(ctx, email, clientIP, models.OpForgotPassword)
}

// checkOperation runs the full decision ladder for one operation class:
// account lookup, suspension gate with lazy expiry, then the attempt window.
// Denied over-ceiling attempts feed the suspicious-activity escalation.
func (s *SecurityService) checkOperation(ctx context.Context, email, clientIP string, op models.OperationClass) (*models.SecurityDecision, error) {
	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.denyUnknownEmail(ctx, email, clientIP, op), nil
		}
		return s.failClosed(op, err)
	}

	if decision, err := s.suspensionGate(ctx, user, clientIP, now); decision != nil || err != nil {
		if err != nil {
			return s.failClosed(op, err)
		}
		s.auditDecision(user.ID, op, clientIP, false, models.ReasonSuspended)
		return decision, nil
	}

	win, admitted, err := s.users.ConsumeAttempt(ctx, user.ID, op, now, s.policy.AttemptWindow, s.policy.MaxDailyAttempts)
	if err != nil {
		return s.failClosed(op, err)
	}

	if admitted {
		s.auditDecision(user.ID, op, clientIP, true, "")
		return &models.SecurityDecision{
			Allowed:           true,
			AttemptsRemaining: s.remaining(win.Count),
			User:              user,
		}, nil
	}

	return s.denyOverCeiling(ctx, user, clientIP, op, win, now), nil
}

// CheckTemporarySuspension is the login gate: suspension only, no attempt
// counters. Login failures have their own credential handling.
func (s *SecurityService) CheckTemporarySuspension(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error) {
	now := s.now()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.SecurityDecision{Allowed: false, Reason: models.ReasonUserNotFound}, nil
		}
		return s.failClosed("", err)
	}

	if decision, err := s.suspensionGate(ctx, user, clientIP, now); decision != nil || err != nil {
		if err != nil {
			return s.failClosed("", err)
		}
		s.recordEvent(ctx, &user.ID, models.SecurityEventLoginDenied, "", models.ReasonSuspended, clientIP)
		return decision, nil
	}

	return &models.SecurityDecision{Allowed: true, User: user}, nil
}

// ResetAttempts clears security counters for an account. Scope selects the
// counters; "suspicious" and "all" also lift any suspension. Idempotent.
func (s *SecurityService) ResetAttempts(ctx context.Context, accountID string, scope models.ResetScope, actorID string) error {
	if _, err := models.ParseResetScope(string(scope)); err != nil {
		return err
	}

	if err := s.users.ResetSecurityCounters(ctx, accountID, scope, s.now()); err != nil {
		return err
	}

	s.recordEvent(ctx, &accountID, models.SecurityEventCountersReset, "", string(scope), "")
	s.audit.LogAccountAction(models.SecurityEventCountersReset, accountID, actorID, map[string]string{
		"scope": string(scope),
	})
	return nil
}

// GetSecurityStatus returns the admin projection of an account's security
// state. Stale windows are reported as empty without being mutated.
func (s *SecurityService) GetSecurityStatus(ctx context.Context, email string) (*models.SecurityStatus, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &models.SecurityStatus{
		UserID:                  user.ID,
		Email:                   user.Email,
		Status:                  user.Status,
		Verification:            s.windowStatus(user.VerificationAttempts, user.VerificationAttemptsResetAt, now),
		ForgotPassword:          s.windowStatus(user.ForgotPasswordAttempts, user.ForgotPasswordAttemptsResetAt, now),
		SuspiciousActivityCount: user.SuspiciousActivityCount,
		Suspended:               user.IsSuspended(now),
		SuspensionUntil:         user.SuspensionUntil,
		SuspensionReason:        user.SuspensionReason,
	}, nil
}

// suspensionGate returns a denial decision when the account is under an
// active suspension, lazily clearing one that has lapsed. A nil, nil return
// means the gate is open.
func (s *SecurityService) suspensionGate(ctx context.Context, user *models.User, clientIP string, now time.Time) (*models.SecurityDecision, error) {
	if user.IsSuspended(now) {
		return &models.SecurityDecision{
			Allowed:          false,
			Reason:           models.ReasonSuspended,
			SuspensionEnd:    user.SuspensionUntil,
			SuspensionReason: user.SuspensionReason,
			User:             user,
		}, nil
	}

	if user.SuspensionUntil != nil {
		cleared, err := s.users.ClearExpiredSuspension(ctx, user.ID, now)
		if err != nil {
			return nil, err
		}
		if cleared {
			user.SuspensionUntil = nil
			user.SuspensionReason = ""
			user.SuspiciousActivityCount = 0
			if user.Status == models.StatusSuspended {
				user.Status = models.StatusActive
			}
			s.recordEvent(ctx, &user.ID, models.SecurityEventSuspensionCleared, "", "", clientIP)
		}
	}

	return nil, nil
}

// denyUnknownEmail is the enumeration guard: no account is created and no
// counter exists to spend, but the probe is recorded. The handler maps this
// decision to the same generic response a rate-limited real account gets.
func (s *SecurityService) denyUnknownEmail(ctx context.Context, email, clientIP string, op models.OperationClass) *models.SecurityDecision {
	s.recordEvent(ctx, nil, models.SecurityEventUnknownEmailProbe, op, models.ReasonUserNotFound, clientIP)
	s.logger.Info("security check against unknown email",
		"operation_class", string(op),
		"email", logger.SanitizedEmail(email),
	)

	return &models.SecurityDecision{
		Allowed: false,
		Reason:  models.ReasonUserNotFound,
	}
}

// denyOverCeiling handles a denied attempt against a real account. Every
// such denial escalates the shared suspicious counter; crossing the
// threshold converts the denial into a fresh suspension.
func (s *SecurityService) denyOverCeiling(ctx context.Context, user *models.User, clientIP string, op models.OperationClass, win *models.AttemptWindow, now time.Time) *models.SecurityDecision {
	resetTime := win.ResetAt.Add(s.policy.AttemptWindow)

	decision := &models.SecurityDecision{
		Allowed:   false,
		Reason:    models.ReasonDailyLimitExceeded,
		ResetTime: &resetTime,
		User:      user,
	}

	count, suspendedUntil, err := s.users.EscalateSuspicious(ctx, user.ID, s.policy.SuspiciousThreshold, now.Add(s.policy.SuspensionDuration), suspensionReasonSuspicious, now)
	if err != nil {
		// The request is already denied; a failed escalation write only
		// delays the ladder, it never admits anything.
		s.logger.Error("suspicious escalation failed", "user_id", user.ID, "error", err)
		s.recordEvent(ctx, &user.ID, models.SecurityEventLimitExceeded, op, models.ReasonDailyLimitExceeded, clientIP)
		s.auditDecision(user.ID, op, clientIP, false, models.ReasonDailyLimitExceeded)
		return decision
	}

	if suspendedUntil != nil {
		decision.Reason = models.ReasonSuspended
		decision.SuspensionEnd = suspendedUntil
		decision.SuspensionReason = suspensionReasonSuspicious
		decision.ResetTime = nil
		s.recordEvent(ctx, &user.ID, models.SecurityEventSuspensionCreated, op, models.ReasonSuspended, clientIP)
		s.auditDecision(user.ID, op, clientIP, false, models.ReasonSuspended)
		s.logger.Warn("account suspended after suspicious activity",
			"user_id", user.ID,
			"suspicious_count", count,
			"suspension_until", suspendedUntil.UTC().Format(time.RFC3339),
		)
		return decision
	}

	s.recordEvent(ctx, &user.ID, models.SecurityEventLimitExceeded, op, models.ReasonDailyLimitExceeded, clientIP)
	s.auditDecision(user.ID, op, clientIP, false, models.ReasonDailyLimitExceeded)
	return decision
}

// failClosed converts a store failure into a denial plus an error. A check
// that cannot be evaluated never admits the request.
func (s *SecurityService) failClosed(op models.OperationClass, err error) (*models.SecurityDecision, error) {
	s.logger.Error("security check failed", "operation_class", string(op), "error", err)
	return &models.SecurityDecision{
		Allowed: false,
		Reason:  models.ReasonInternalError,
	}, fmt.Errorf("security check: %w", err)
}

func (s *SecurityService) remaining(count int) int {
	remaining := s.policy.MaxDailyAttempts - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *SecurityService) windowStatus(count int, resetAt time.Time, now time.Time) models.WindowStatus {
	if now.Sub(resetAt) >= s.policy.AttemptWindow {
		return models.WindowStatus{
			Attempts:  0,
			Remaining: s.policy.MaxDailyAttempts,
		}
	}

	resetsAt := resetAt.Add(s.policy.AttemptWindow)
	startedAt := resetAt
	return models.WindowStatus{
		Attempts:        count,
		Remaining:       s.remaining(count),
		WindowStartedAt: &startedAt,
		WindowResetsAt:  &resetsAt,
	}
}

// recordEvent appends to the audit trail best-effort; the trail is
// telemetry, never part of the decision.
func (s *SecurityService) recordEvent(ctx context.Context, userID *string, eventType string, op models.OperationClass, reason, clientIP string) {
	event := &models.SecurityEvent{
		UserID:         userID,
		EventType:      eventType,
		OperationClass: op,
		Reason:         reason,
		IPAddress:      clientIP,
	}

	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record security event", "event_type", eventType, "error", err)
	}
}

func (s *SecurityService) auditDecision(userID string, op models.OperationClass, clientIP string, allowed bool, denialReason string) {
	s.audit.LogSecurityDecision(logger.AuditEvent{
		EventType:      "security_check",
		UserID:         userID,
		OperationClass: string(op),
		IPAddress:      clientIP,
		Success:        allowed,
		DenialReason:   denialReason,
	})
}
