package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in every signed payload. Each type is
// also signed with its own secret, so a leaked access secret cannot mint
// refresh tokens; the type claim is a second, cheaper line of defense.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessClaims is the payload of an access token: identity plus role for the
// role guard, under the registered issuer/audience/expiry claims.
type AccessClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims carries only the user identity; everything else about a
// refresh token (revocation, device info) lives in the refresh_tokens table.
type RefreshClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
