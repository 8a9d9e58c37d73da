package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost       = 12
	DefaultMinPasswordLen   = 8
	MaxPasswordLen          = 128
	bcryptPasswordByteLimit = 72 // bcrypt silently truncates beyond this
)

// ErrPasswordPolicy marks password-strength violations from Hash.
var ErrPasswordPolicy = errors.New("password does not meet requirements")

// ErrMalformedHash is returned by Verify when the stored hash cannot be
// parsed at all; a plain mismatch is not an error.
var ErrMalformedHash = errors.New("malformed password hash")

// Common weak passwords to reject outright.
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty123":    true,
	"password123":  true,
	"password123!": true,
	"letmein1":     true,
	"welcome1":     true,
	"passw0rd":     true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

// Hasher wraps bcrypt with a configurable work factor. The zero value is not
// usable; construct with NewHasher.
type Hasher struct {
	cost   int
	minLen int
}

func NewHasher(cost, minLen int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	if minLen <= 0 {
		minLen = DefaultMinPasswordLen
	}
	return &Hasher{cost: cost, minLen: minLen}
}

// Hash validates the plaintext against the password policy and returns its
// bcrypt hash. The plaintext is never logged by this package.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.Validate(password); err != nil {
		return "", err
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether the plaintext matches the stored hash. A mismatch
// returns (false, nil); only an unparseable hash is an error.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
}

// Validate enforces the password policy without hashing.
func (h *Hasher) Validate(password string) error {
	if len(password) < h.minLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordPolicy, h.minLen)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("%w: must be at most %d characters", ErrPasswordPolicy, MaxPasswordLen)
	}
	if len(password) > bcryptPasswordByteLimit {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPasswordPolicy, bcryptPasswordByteLimit)
	}
	if commonPasswords[strings.ToLower(password)] {
		return fmt.Errorf("%w: password is too common", ErrPasswordPolicy)
	}
	return nil
}
