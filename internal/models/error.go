package models

import (
	"errors"
	"fmt"
	"time"
)

// Standard application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("resource conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrInternalServer     = errors.New("internal server error")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrAccountSuspended   = errors.New("account is temporarily suspended")
	ErrEmailNotVerified   = errors.New("email address is not verified")
	ErrDailyLimitExceeded = errors.New("daily attempt limit exceeded")
	ErrInvalidResetScope  = errors.New("invalid reset scope")
)

// SuspensionError carries the suspension end time so callers can surface
// an accurate retry time. errors.Is(err, ErrAccountSuspended) matches it.
type SuspensionError struct {
	Until  time.Time
	Reason string
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("account suspended until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *SuspensionError) Is(target error) bool {
	return target == ErrAccountSuspended
}
