package models

import "time"

// Security event types recorded in the audit trail
const (
	SecurityEventLoginDenied       = "login_denied"
	SecurityEventLimitExceeded     = "limit_exceeded"
	SecurityEventUnknownEmailProbe = "unknown_email_probe"
	SecurityEventSuspensionCreated = "suspension_created"
	SecurityEventSuspensionCleared = "suspension_cleared"
	SecurityEventCountersReset     = "counters_reset"
)

// SecurityEvent is one entry in the security audit trail. UserID is empty
// for events tied to an unknown email.
type SecurityEvent struct {
	ID             string         `json:"id"`
	UserID         *string        `json:"user_id,omitempty"`
	EventType      string         `json:"event_type"`
	OperationClass OperationClass `json:"operation_class,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
