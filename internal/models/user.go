package models

import "time"

// Account statuses
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account record, including its abuse-prevention state.
// The attempt counters and the suspicious counter live directly on the
// row so security checks can mutate them in single statements.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Name              string     `json:"name"`
	EmailVerified     bool       `json:"email_verified"`
	Role              string     `json:"role"`
	Status            string     `json:"status"`
	PasswordChangedAt *time.Time `json:"-"`

	VerificationAttempts          int        `json:"-"`
	VerificationAttemptsResetAt   time.Time  `json:"-"`
	ForgotPasswordAttempts        int        `json:"-"`
	ForgotPasswordAttemptsResetAt time.Time  `json:"-"`
	SuspiciousActivityCount       int        `json:"-"`
	SuspensionUntil               *time.Time `json:"-"`
	SuspensionReason              string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSuspended reports whether a suspension is currently in force
func (u *User) IsSuspended(now time.Time) bool {
	return u.SuspensionUntil != nil && u.SuspensionUntil.After(now)
}
