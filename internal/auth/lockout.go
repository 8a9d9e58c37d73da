package auth

import (
	"time"

	"github.com/genesisplatform/auth-api/internal/models"
)

// LockoutPolicy decides when repeated password failures lock an account.
// All state lives on the User record (failed_login_attempts, locked_until);
// the policy only evaluates it. Counter increments are a store concern and
// must be atomic (UserRepository.RecordLoginFailure), never read-modify-write
// here.
type LockoutPolicy struct {
	Threshold int           // failures that trigger a lock
	Duration  time.Duration // how long the lock holds

	now func() time.Time
}

func NewLockoutPolicy(threshold int, duration time.Duration) *LockoutPolicy {
	return &LockoutPolicy{
		Threshold: threshold,
		Duration:  duration,
		now:       time.Now,
	}
}

// SetClock overrides the policy's time source. Tests only.
func (p *LockoutPolicy) SetClock(now func() time.Time) {
	p.now = now
}

// Check returns an AccountLockedError while the lock window is open. Locked
// attempts fail before any password hashing happens, so probing neither
// burns CPU nor extends the lock.
func (p *LockoutPolicy) Check(user *models.User) error {
	now := p.now()
	if user.IsLocked(now) {
		return &models.AccountLockedError{Until: *user.LockedUntil, Now: now}
	}
	return nil
}

// LockExpired reports a lock whose window has passed. The first attempt that
// observes this resets the counter before the password is evaluated.
func (p *LockoutPolicy) LockExpired(user *models.User) bool {
	return user.LockedUntil != nil && !user.IsLocked(p.now())
}
