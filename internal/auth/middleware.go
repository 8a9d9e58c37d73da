package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/genesisplatform/auth-api/internal/models"
	pkghttp "github.com/genesisplatform/auth-api/pkg/http"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
	tokenContextKey  contextKey = "token"
)

// BlacklistChecker reports access-token revocation state: per-jti blacklist
// entries (logout before natural expiry) and per-user invalidation cutoffs
// (password reset/change rejecting every token issued before the change).
// Backed by Redis when configured.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	TokensInvalidatedAt(ctx context.Context, userID string) (time.Time, bool, error)
}

// Middleware validates bearer access tokens and injects claims into the
// request context. The blacklist check fails open: Redis being down must not
// take login sessions with it, and refresh-token revocation in the primary
// store remains the correctness mechanism.
func Middleware(codec *TokenCodec, blacklist BlacklistChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			tokenString := parts[1]

			claims, err := codec.VerifyAccess(tokenString)
			if err != nil {
				if errors.Is(err, models.ErrTokenExpired) {
					pkghttp.WriteUnauthorized(w, "token expired, please log in again")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			if blacklist != nil {
				if claims.ID != "" {
					revoked, err := blacklist.IsBlacklisted(r.Context(), claims.ID)
					if err == nil && revoked {
						pkghttp.WriteUnauthorized(w, "token has been revoked")
						return
					}
				}

				// Password reset/change stamps a per-user cutoff; tokens
				// issued at or before it are dead even though their
				// signature and expiry still check out.
				if claims.IssuedAt != nil {
					cutoff, ok, err := blacklist.TokensInvalidatedAt(r.Context(), claims.UserID)
					if err == nil && ok && !claims.IssuedAt.Time.After(cutoff) {
						pkghttp.WriteUnauthorized(w, "token has been revoked")
						return
					}
				}
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, tokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces the role claim. Role lives in the token, so a role
// change takes effect on the next access-token issuance.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext extracts verified access claims from the request context.
func ClaimsFromContext(r *http.Request) *models.AccessClaims {
	claims, ok := r.Context().Value(claimsContextKey).(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}

// TokenFromContext returns the raw bearer token for blacklisting on logout.
func TokenFromContext(r *http.Request) string {
	token, ok := r.Context().Value(tokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}
