package models

import (
	"time"
)

// Role values for the single role field.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type User struct {
	ID           string
	Email        string // always stored lowercase
	Name         string
	PasswordHash string

	Role          string
	IsActive      bool
	EmailVerified bool

	// Verification and reset tokens are stored as SHA-256 hashes of the raw
	// token sent to the user; the raw value never touches the database.
	EmailVerificationTokenHash *string
	EmailVerificationExpiresAt *time.Time
	PasswordResetTokenHash     *string
	PasswordResetExpiresAt     *time.Time

	// Brute-force lockout state.
	FailedLoginAttempts int
	LockedUntil         *time.Time

	// TOTP second factor.
	TOTPSecret  string
	TOTPEnabled bool

	PasswordChangedAt *time.Time // invalidates tokens issued before a password change
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLocked reports whether the lockout window is still open at the given time.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// ChangedPasswordAfter reports whether the password changed after a token
// was issued. Tokens issued in the same second as the change are rejected.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return !issuedAt.After(*u.PasswordChangedAt)
}
