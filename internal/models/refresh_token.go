package models

import (
	"time"
)

// RefreshToken is one row per issued refresh token. The raw token is never
// stored; TokenHash is the SHA-256 of the value the client presents. Each
// login starts a new chain and every refresh revokes the presented row while
// inserting its successor, so at most one link of a chain is usable at a time.
type RefreshToken struct {
	ID         string
	TokenHash  string
	UserID     string
	ExpiresAt  time.Time
	IsRevoked  bool
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Usable reports whether the record can still be exchanged at the given time.
// Expiry is re-checked here even though the background cleanup also deletes
// expired rows; TTL deletion is best-effort and never load-bearing.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}
