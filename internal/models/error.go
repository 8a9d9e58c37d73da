package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions. Business-rule violations are
// returned as values and matched with errors.Is so handlers can map them to
// status codes deterministically.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInternalServer = errors.New("internal server error")

	// ErrServiceUnavailable covers store timeouts and connectivity failures.
	// Callers may retry; the core never retries mutations on its own.
	ErrServiceUnavailable = errors.New("service unavailable")

	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account has been deactivated")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrEmailNotVerified   = errors.New("email address not verified")

	// Signature-level token failures, distinguished for client UX.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")

	// Store-level refresh failures (missing, revoked, expired) collapse to one
	// message so callers get no oracle on why the token was rejected.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Verification/reset token lookup failures, collapsed for the same reason.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	ErrInvalidCurrentPassword = errors.New("current password is incorrect")

	ErrMFARequired    = errors.New("totp code required")
	ErrMFACodeInvalid = errors.New("invalid totp code")
)

// AccountLockedError carries the remaining lock duration so the surface can
// return a retry-after value. It unwraps to ErrAccountLocked.
type AccountLockedError struct {
	Until time.Time
	Now   time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %ds", e.RetryAfterSeconds())
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfterSeconds returns the remaining lock time, rounded up, never negative.
func (e *AccountLockedError) RetryAfterSeconds() int64 {
	remaining := e.Until.Sub(e.Now)
	if remaining <= 0 {
		return 0
	}
	secs := int64(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
