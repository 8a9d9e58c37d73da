package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/genesisplatform/auth-api/internal/services"
	pkgauth "github.com/genesisplatform/auth-api/pkg/auth"
	pkghttp "github.com/genesisplatform/auth-api/pkg/http"
)

// AuthServiceInterface is the auth core as seen by the HTTP layer.
type AuthServiceInterface interface {
	Register(ctx context.Context, name, email, password string, device services.DeviceInfo) (*services.RegisterResponse, error)
	Login(ctx context.Context, email, password, totpCode string, device services.DeviceInfo) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string, device services.DeviceInfo) (*services.AuthResponse, error)
	Logout(ctx context.Context, userID, refreshToken, accessJTI string, accessExpiresAt time.Time, device services.DeviceInfo) error
	LogoutAll(ctx context.Context, userID string, device services.DeviceInfo) (int64, error)
	VerifyEmail(ctx context.Context, rawToken string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, device services.DeviceInfo) error
	Me(ctx context.Context, userID string) (*services.UserResponse, error)
}

// AuthHandler translates HTTP requests into auth-core calls and core errors
// into status codes. No business rules live here.
type AuthHandler struct {
	service        AuthServiceInterface
	trustedProxies []string
}

func NewAuthHandler(service AuthServiceInterface, trustedProxies []string) *AuthHandler {
	return &AuthHandler{
		service:        service,
		trustedProxies: trustedProxies,
	}
}

// Request DTOs

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,len=6,numeric"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LogoutAllResponse struct {
	Message         string `json:"message"`
	SessionsRevoked int64  `json:"sessions_revoked"`
}

// Register creates an account. 201 on success even when the verification
// email failed; the response body says whether it was sent.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password, h.device(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateEmail):
			pkghttp.WriteConflict(w, "Email already registered")
		case errors.Is(err, pkgauth.ErrPasswordPolicy):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Login authenticates credentials. Unknown email and wrong password produce
// the same 401; a locked account gets 423 with Retry-After.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Login(r.Context(), req.Email, req.Password, req.TOTPCode, h.device(r))
	if err != nil {
		var locked *models.AccountLockedError
		switch {
		case errors.As(err, &locked):
			pkghttp.WriteLocked(w, "Account temporarily locked due to repeated failed logins", locked.RetryAfterSeconds())
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteError(w, http.StatusForbidden, "account_inactive", "Account has been deactivated")
		case errors.Is(err, models.ErrEmailNotVerified):
			pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified", "Please verify your email address before logging in")
		case errors.Is(err, models.ErrMFARequired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_required", "A TOTP code is required for this account")
		case errors.Is(err, models.ErrMFACodeInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid TOTP code")
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new pair. All rejection causes
// collapse to 401.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken, h.device(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrTokenInvalid),
			errors.Is(err, models.ErrInvalidRefreshToken):
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteError(w, http.StatusForbidden, "account_inactive", "Account has been deactivated")
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout ends the current session. Requires a valid access token; the
// refresh token in the body is revoked and the access token blacklisted.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req LogoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	var accessExpiry time.Time
	if claims.ExpiresAt != nil {
		accessExpiry = claims.ExpiresAt.Time
	}

	if err := h.service.Logout(r.Context(), claims.UserID, req.RefreshToken, claims.ID, accessExpiry, h.device(r)); err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// LogoutAll revokes every session the user holds.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), claims.UserID, h.device(r))
	if err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, LogoutAllResponse{
		Message:         "All sessions ended",
		SessionsRevoked: count,
	})
}

// VerifyEmail accepts the token as a query parameter (email link) or in the
// body.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req VerifyEmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		token = req.Token
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidOrExpiredToken):
			pkghttp.WriteBadRequest(w, "Token is invalid or has expired")
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully"})
}

// ResendVerification always answers 202 so the endpoint cannot be used to
// enumerate registered addresses.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If that email is registered and unverified, a verification link has been sent",
	})
}

// ForgotPassword starts a reset. Unknown addresses still get 202.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		// A send failure after the account lookup must not reach the client;
		// a non-generic response here would confirm the address exists. The
		// service has already rolled back the stored token and logged it.
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If that email is registered, a password reset link has been sent",
	})
}

// ResetPassword consumes a reset token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidOrExpiredToken):
			pkghttp.WriteBadRequest(w, "Token is invalid or has expired")
		case errors.Is(err, pkgauth.ErrPasswordPolicy):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successfully. Please log in again."})
}

// ChangePassword swaps the password for an authenticated user and ends all
// existing sessions.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, h.device(r)); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCurrentPassword):
			pkghttp.WriteUnauthorized(w, "Current password is incorrect")
		case errors.Is(err, pkgauth.ErrPasswordPolicy):
			pkghttp.WriteBadRequest(w, err.Error())
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password changed successfully. Please log in again."})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.Me(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		case errors.Is(err, models.ErrServiceUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) device(r *http.Request) services.DeviceInfo {
	return services.DeviceInfo{
		IPAddress: pkghttp.ClientIP(r, h.trustedProxies),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
