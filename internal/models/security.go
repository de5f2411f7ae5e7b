package models

import "time"

// OperationClass identifies which attempt window a security check draws from
type OperationClass string

const (
	OpVerification   OperationClass = "verification"
	OpForgotPassword OperationClass = "forgot_password"
)

// Denial reasons carried on SecurityDecision and in the audit trail
const (
	ReasonDailyLimitExceeded = "daily_limit_exceeded"
	ReasonUserNotFound       = "user_not_found"
	ReasonSuspended          = "account_suspended"
	ReasonInternalError      = "internal_error"
)

// SecurityDecision is the outcome of a security check. Handlers translate it
// into a response without re-deriving any policy.
type SecurityDecision struct {
	Allowed           bool
	Reason            string
	AttemptsRemaining int
	ResetTime         *time.Time
	SuspensionEnd     *time.Time
	SuspensionReason  string
	User              *User
}

// ResetScope selects which counters an administrative reset clears
type ResetScope string

const (
	ResetScopeAll          ResetScope = "all"
	ResetScopeVerification ResetScope = "verification"
	ResetScopePassword     ResetScope = "password"
	ResetScopeSuspicious   ResetScope = "suspicious"
)

// ParseResetScope validates a caller-supplied scope string
func ParseResetScope(s string) (ResetScope, error) {
	switch ResetScope(s) {
	case ResetScopeAll, ResetScopeVerification, ResetScopePassword, ResetScopeSuspicious:
		return ResetScope(s), nil
	default:
		return "", ErrInvalidResetScope
	}
}

// AttemptWindow is the stored state of one rolling attempt window
type AttemptWindow struct {
	Count   int
	ResetAt time.Time
}

// WindowStatus is the reporting view of an attempt window
type WindowStatus struct {
	Attempts        int        `json:"attempts"`
	Remaining       int        `json:"remaining"`
	WindowStartedAt *time.Time `json:"window_started_at,omitempty"`
	WindowResetsAt  *time.Time `json:"window_resets_at,omitempty"`
}

// SecurityStatus is the admin projection of an account's security state
type SecurityStatus struct {
	UserID                  string       `json:"user_id"`
	Email                   string       `json:"email"`
	Status                  string       `json:"status"`
	Verification            WindowStatus `json:"verification"`
	ForgotPassword          WindowStatus `json:"forgot_password"`
	SuspiciousActivityCount int          `json:"suspicious_activity_count"`
	Suspended               bool         `json:"suspended"`
	SuspensionUntil         *time.Time   `json:"suspension_until,omitempty"`
	SuspensionReason        string       `json:"suspension_reason,omitempty"`
}
