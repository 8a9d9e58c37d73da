package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenCodec signs and verifies the two bearer-token categories. Access and
// refresh tokens use independent secrets so a leaked access secret cannot
// mint long-lived refresh tokens. The codec is stateless and does no I/O;
// revocation is layered on top by the auth service via the refresh-token
// store.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	audience      string
	now           func() time.Time
}

func NewTokenCodec(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration, issuer, audience string) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		issuer:        issuer,
		audience:      audience,
		now:           time.Now,
	}
}

// SetClock overrides the codec's time source. Tests only.
func (tc *TokenCodec) SetClock(now func() time.Time) {
	tc.now = now
}

// SignAccess creates a short-lived access token carrying identity and role.
func (tc *TokenCodec) SignAccess(userID, email, role string) (string, error) {
	now := tc.now()
	claims := &models.AccessClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tc.issuer,
			Audience:  jwt.ClaimStrings{tc.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// SignRefresh creates a long-lived refresh token carrying only the user id.
func (tc *TokenCodec) SignRefresh(userID string) (string, error) {
	now := tc.now()
	claims := &models.RefreshClaims{
		Type:   models.TokenTypeRefresh,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tc.issuer,
			Audience:  jwt.ClaimStrings{tc.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, issuer, audience, and expiry of an access
// token. Failures are either ErrTokenExpired or ErrTokenInvalid; no other
// detail crosses this boundary.
func (tc *TokenCodec) VerifyAccess(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := tc.verify(tokenString, claims, tc.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, models.ErrTokenInvalid
	}
	if tc.pastExpiry(claims.ExpiresAt) {
		return nil, models.ErrTokenExpired
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token's signature and registered claims.
func (tc *TokenCodec) VerifyRefresh(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := tc.verify(tokenString, claims, tc.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, models.ErrTokenInvalid
	}
	if tc.pastExpiry(claims.ExpiresAt) {
		return nil, models.ErrTokenExpired
	}
	return claims, nil
}

func (tc *TokenCodec) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tc.issuer),
		jwt.WithAudience(tc.audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tc.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.ErrTokenExpired
		}
		return models.ErrTokenInvalid
	}

	if !token.Valid {
		return models.ErrTokenInvalid
	}

	return nil
}

// pastExpiry treats exp == now as expired. The jwt library leaves the
// boundary valid; the inclusive check favors safety.
func (tc *TokenCodec) pastExpiry(exp *jwt.NumericDate) bool {
	if exp == nil {
		return true
	}
	return !tc.now().Before(exp.Time)
}
