package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/config"
	"github.com/genesisplatform/auth-api/internal/models"
	pkgauth "github.com/genesisplatform/auth-api/pkg/auth"
	pkglogger "github.com/genesisplatform/auth-api/pkg/logger"
)

// UserRepository is the slice of the user store the auth core depends on.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error)
	ClearExpiredLock(ctx context.Context, id string) error
	RecordLoginSuccess(ctx context.Context, id string) error
	SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	VerifyEmailByTokenHash(ctx context.Context, tokenHash string) (string, error)
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	ResetPasswordByTokenHash(ctx context.Context, tokenHash, newPasswordHash string) (string, error)
	UpdatePassword(ctx context.Context, id, newPasswordHash string) error
	Deactivate(ctx context.Context, id string) error
}

// RefreshTokenRepository is the refresh-token store contract. Rotate must be
// atomic: of any number of concurrent calls presenting the same token, exactly
// one succeeds.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error)
	Revoke(ctx context.Context, tokenHash, userID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// TokenBlacklist invalidates access tokens before their natural expiry:
// individually by jti on logout, or all of a user's outstanding tokens via a
// cutoff stamp on password reset/change. The layer is best-effort: a down
// blacklist never blocks the operation, because refresh-token revocation in
// the primary store is what actually ends the session, and orphaned access
// tokens die within one short TTL regardless.
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	InvalidateUserTokens(ctx context.Context, userID string, ttl time.Duration) error
}

// DeviceInfo is the per-request client context recorded on sessions and in
// audit events.
type DeviceInfo struct {
	IPAddress string
	UserAgent string
}

// TokenPair is one access/refresh issuance.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserResponse is the user shape exposed over HTTP. Credential and token
// fields never appear here.
type UserResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	EmailVerified bool    `json:"email_verified"`
	TOTPEnabled   bool    `json:"totp_enabled"`
	LastLoginAt   *string `json:"last_login_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// AuthResponse is the result of login and refresh.
type AuthResponse struct {
	User   *UserResponse `json:"user"`
	Tokens *TokenPair    `json:"tokens"`
}

// RegisterResponse reports the created account. Tokens is nil when
// registration is configured not to issue them. VerificationEmailSent is
// false when the account was created but the verification mail failed, so
// the surface can tell the client to use resend.
type RegisterResponse struct {
	User                  *UserResponse `json:"user"`
	Tokens                *TokenPair    `json:"tokens,omitempty"`
	VerificationEmailSent bool          `json:"verification_email_sent"`
}

// AuthService is the credential and token-lifecycle core. All business rules
// live here; handlers only translate HTTP to calls and errors to statuses.
type AuthService struct {
	users         UserRepository
	refreshTokens RefreshTokenRepository
	codec         *auth.TokenCodec
	hasher        *pkgauth.Hasher
	lockout       *auth.LockoutPolicy
	mfa           *MFAService
	mailer        Mailer
	blacklist     TokenBlacklist
	cfg           config.AuthConfig
	logger        *slog.Logger
	audit         *pkglogger.AuditLogger

	// decoyHash is a valid bcrypt hash at the configured cost, verified
	// against on the unknown-email login branch so that branch pays the same
	// bcrypt cost as a wrong password for a real account. Without it,
	// response time is a user-existence oracle.
	decoyHash string
}

func NewAuthService(
	users UserRepository,
	refreshTokens RefreshTokenRepository,
	codec *auth.TokenCodec,
	hasher *pkgauth.Hasher,
	lockout *auth.LockoutPolicy,
	mfa *MFAService,
	mailer Mailer,
	blacklist TokenBlacklist,
	cfg config.AuthConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	decoyHash, err := hasher.Hash("decoy-credential-equalizer")
	if err != nil {
		logger.Error("failed to precompute decoy hash", slog.Any("error", err))
	}

	return &AuthService{
		users:         users,
		refreshTokens: refreshTokens,
		codec:         codec,
		hasher:        hasher,
		lockout:       lockout,
		mfa:           mfa,
		mailer:        mailer,
		blacklist:     blacklist,
		cfg:           cfg,
		logger:        logger,
		audit:         audit,
		decoyHash:     decoyHash,
	}
}

// Register creates an account, stores the hashed verification token, and
// mails the raw one. A failed mail send leaves the account in place and is
// reported via VerificationEmailSent so the client can trigger a resend.
func (s *AuthService) Register(ctx context.Context, name, email, password string, device DeviceInfo) (*RegisterResponse, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	rawToken, tokenHash, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	verifyExpiry := time.Now().Add(s.cfg.VerificationTokenExpiry)

	user, err := s.users.Create(ctx, &models.User{
		Email:                      email,
		Name:                       name,
		PasswordHash:               passwordHash,
		Role:                       models.RoleUser,
		IsActive:                   true,
		EmailVerificationTokenHash: &tokenHash,
		EmailVerificationExpiresAt: &verifyExpiry,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			return nil, models.ErrDuplicateEmail
		}
		return nil, s.storeErr("create user", err)
	}

	emailSent := true
	if err := s.mailer.SendVerificationEmail(ctx, email, rawToken); err != nil {
		emailSent = false
		s.logger.Warn("verification email failed after registration",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.audit.LogAccountAction("user_registered", user.ID, device.IPAddress)

	resp := &RegisterResponse{
		User:                  toUserResponse(user),
		VerificationEmailSent: emailSent,
	}

	if s.cfg.RegisterIssuesTokens {
		pair, err := s.issueTokens(ctx, user, device)
		if err != nil {
			return nil, err
		}
		resp.Tokens = pair
	}

	return resp, nil
}

// Login verifies credentials and issues a token pair. Evaluation order:
// account exists, account active, lockout, password, email verification,
// TOTP. The lockout check runs before any bcrypt work so probing a locked
// account costs nothing and cannot extend the lock.
func (s *AuthService) Login(ctx context.Context, email, password, totpCode string, device DeviceInfo) (*AuthResponse, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn the same bcrypt cost a wrong password would, so the
			// unknown-email branch is not distinguishable by response time.
			_, _ = s.hasher.Verify(password, s.decoyHash)
			s.auditLoginFailure("", device, "invalid_credentials")
			return nil, models.ErrInvalidCredentials
		}
		return nil, s.storeErr("get user by email", err)
	}

	if !user.IsActive {
		s.auditLoginFailure(user.ID, device, "account_inactive")
		return nil, models.ErrAccountInactive
	}

	if s.lockout.LockExpired(user) {
		if err := s.users.ClearExpiredLock(ctx, user.ID); err != nil {
			return nil, s.storeErr("clear expired lock", err)
		}
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}
	if err := s.lockout.Check(user); err != nil {
		s.auditLoginFailure(user.ID, device, "account_locked")
		return nil, err
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verify failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !ok {
		attempts, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID, s.lockout.Threshold, s.lockout.Duration)
		if err != nil {
			return nil, s.storeErr("record login failure", err)
		}
		if lockedUntil != nil && user.LockedUntil == nil {
			s.logger.Warn("account locked after repeated failures",
				slog.String("user_id", user.ID),
				slog.Int("failed_attempts", attempts))
			s.audit.LogAccountAction("account_locked", user.ID, device.IPAddress)
		}
		s.auditLoginFailure(user.ID, device, "invalid_credentials")
		return nil, models.ErrInvalidCredentials
	}

	if s.cfg.RequireVerifiedEmail && !user.EmailVerified {
		s.auditLoginFailure(user.ID, device, "email_not_verified")
		return nil, models.ErrEmailNotVerified
	}

	if user.TOTPEnabled {
		if totpCode == "" {
			return nil, models.ErrMFARequired
		}
		if !s.mfa.ValidateCode(user.TOTPSecret, totpCode) {
			s.auditLoginFailure(user.ID, device, "invalid_totp_code")
			return nil, models.ErrMFACodeInvalid
		}
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID); err != nil {
		// Counter reset and last_login_at are bookkeeping; the login stands.
		s.logger.Warn("failed to record login success", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	pair, err := s.issueTokens(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login",
		UserID:    user.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Success:   true,
	})

	return &AuthResponse{User: toUserResponse(user), Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a fresh pair, revoking the presented
// token in the same transaction that records its successor. A replayed token
// (already rotated or explicitly revoked) is logged as a reuse signal and
// rejected with the same error as any other invalid token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device DeviceInfo) (*AuthResponse, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	tokenHash := pkgauth.HashToken(refreshToken)

	record, err := s.refreshTokens.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditRefreshFailure(claims.UserID, device, "unknown_token")
			return nil, models.ErrInvalidRefreshToken
		}
		return nil, s.storeErr("get refresh token", err)
	}
	if record.IsRevoked {
		// Valid signature on a revoked row means the token was presented
		// twice. The second presenter may be a thief.
		s.logger.Warn("refresh token reuse detected",
			slog.String("user_id", record.UserID),
			slog.String("ip_address", device.IPAddress))
		s.auditRefreshFailure(record.UserID, device, "token_reuse")
		return nil, models.ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidRefreshToken
		}
		return nil, s.storeErr("get user", err)
	}
	if !user.IsActive {
		return nil, models.ErrAccountInactive
	}
	if claims.IssuedAt != nil && user.ChangedPasswordAfter(claims.IssuedAt.Time) {
		if err := s.refreshTokens.Revoke(ctx, tokenHash, user.ID); err != nil {
			s.logger.Warn("failed to revoke stale refresh token", slog.Any("error", err))
		}
		s.auditRefreshFailure(user.ID, device, "password_changed")
		return nil, models.ErrInvalidRefreshToken
	}

	newRefresh, err := s.codec.SignRefresh(user.ID)
	if err != nil {
		s.logger.Error("failed to sign refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	successor := &models.RefreshToken{
		TokenHash: pkgauth.HashToken(newRefresh),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenExpiry),
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	}
	if _, err := s.refreshTokens.Rotate(ctx, tokenHash, successor); err != nil {
		if errors.Is(err, models.ErrInvalidRefreshToken) {
			// Lost a race against a concurrent refresh of the same token.
			s.auditRefreshFailure(user.ID, device, "concurrent_rotation")
			return nil, models.ErrInvalidRefreshToken
		}
		return nil, s.storeErr("rotate refresh token", err)
	}

	accessToken, err := s.codec.SignAccess(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to sign access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "token_refreshed",
		UserID:    user.ID,
		IPAddress: device.IPAddress,
		Success:   true,
	})

	return &AuthResponse{
		User:   toUserResponse(user),
		Tokens: &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh},
	}, nil
}

// Logout revokes the presented refresh token and blacklists the current
// access token for the remainder of its life. Revoking an already-revoked or
// unknown refresh token succeeds; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken, accessJTI string, accessExpiresAt time.Time, device DeviceInfo) error {
	if refreshToken != "" {
		if err := s.refreshTokens.Revoke(ctx, pkgauth.HashToken(refreshToken), userID); err != nil {
			return s.storeErr("revoke refresh token", err)
		}
	}

	if s.blacklist != nil && accessJTI != "" {
		if ttl := time.Until(accessExpiresAt); ttl > 0 {
			if err := s.blacklist.BlacklistToken(ctx, accessJTI, ttl); err != nil {
				// Blacklist is best-effort; the access token dies at its
				// natural expiry anyway.
				s.logger.Warn("failed to blacklist access token", slog.Any("error", err))
			}
		}
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    userID,
		IPAddress: device.IPAddress,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every usable refresh token the user holds, ending all
// sessions on all devices. Returns the number of sessions ended.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, device DeviceInfo) (int64, error) {
	count, err := s.refreshTokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, s.storeErr("revoke all refresh tokens", err)
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout_all",
		UserID:    userID,
		IPAddress: device.IPAddress,
		Success:   true,
	})
	return count, nil
}

// VerifyEmail consumes a verification token. Unknown and expired tokens are
// indistinguishable to the caller.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	userID, err := s.users.VerifyEmailByTokenHash(ctx, pkgauth.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredToken
		}
		return s.storeErr("verify email", err)
	}

	s.audit.LogAccountAction("email_verified", userID, "")
	return nil
}

// ResendVerification issues a fresh verification token. Unknown and
// already-verified addresses return success so the endpoint cannot be used
// to discover which emails are registered.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return s.storeErr("get user by email", err)
	}
	if user.EmailVerified || !user.IsActive {
		return nil
	}

	rawToken, tokenHash, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.users.SetVerificationToken(ctx, user.ID, tokenHash, time.Now().Add(s.cfg.VerificationTokenExpiry)); err != nil {
		return s.storeErr("set verification token", err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, email, rawToken); err != nil {
		s.logger.Warn("failed to resend verification email", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// ForgotPassword stores a hashed reset token and mails the raw one. Unknown
// addresses return success (no enumeration oracle). A failed send rolls the
// stored token back so no live reset token exists that was never delivered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return s.storeErr("get user by email", err)
	}
	if !user.IsActive {
		return nil
	}

	rawToken, tokenHash, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, time.Now().Add(s.cfg.ResetTokenExpiry)); err != nil {
		return s.storeErr("set reset token", err)
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, email, rawToken); err != nil {
		s.logger.Error("failed to send password reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		if rbErr := s.users.ClearResetToken(ctx, user.ID); rbErr != nil {
			s.logger.Error("failed to roll back reset token", slog.String("user_id", user.ID), slog.Any("error", rbErr))
		}
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("password_reset_requested", user.ID, "")
	return nil
}

// ResetPassword consumes a reset token, swaps the password, and revokes every
// refresh token the user holds. Stolen sessions do not survive a reset.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.users.ResetPasswordByTokenHash(ctx, pkgauth.HashToken(rawToken), newHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredToken
		}
		return s.storeErr("reset password", err)
	}

	if _, err := s.refreshTokens.RevokeAllForUser(ctx, userID); err != nil {
		return s.storeErr("revoke all refresh tokens", err)
	}
	s.invalidateAccessTokens(ctx, userID)

	s.audit.LogAccountAction("password_reset", userID, "")
	return nil
}

// ChangePassword requires the current password, then behaves like a reset:
// new hash, password_changed_at stamp, all sessions revoked.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, device DeviceInfo) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return s.storeErr("get user", err)
	}

	ok, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verify failed", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		return models.ErrInvalidCurrentPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return s.storeErr("update password", err)
	}

	if _, err := s.refreshTokens.RevokeAllForUser(ctx, userID); err != nil {
		return s.storeErr("revoke all refresh tokens", err)
	}
	s.invalidateAccessTokens(ctx, userID)

	s.audit.LogAccountAction("password_changed", userID, device.IPAddress)
	return nil
}

// Me returns the authenticated user's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, s.storeErr("get user", err)
	}
	return toUserResponse(user), nil
}

// DeactivateUser soft-deletes an account and ends all of its sessions.
func (s *AuthService) DeactivateUser(ctx context.Context, userID string, device DeviceInfo) error {
	if err := s.users.Deactivate(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return s.storeErr("deactivate user", err)
	}
	if _, err := s.refreshTokens.RevokeAllForUser(ctx, userID); err != nil {
		return s.storeErr("revoke all refresh tokens", err)
	}
	s.invalidateAccessTokens(ctx, userID)

	s.audit.LogAccountAction("account_deactivated", userID, device.IPAddress)
	return nil
}

// EnsureAdmin creates the bootstrap admin account if the address is not
// already registered. No-op when email is empty.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	email = normalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return s.storeErr("get user by email", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:         email,
		Name:          "Administrator",
		PasswordHash:  passwordHash,
		Role:          models.RoleAdmin,
		IsActive:      true,
		EmailVerified: true,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			return nil
		}
		return s.storeErr("create admin user", err)
	}

	s.logger.Info("bootstrap admin created", slog.String("user_id", user.ID))
	return nil
}

// issueTokens signs a pair and records the refresh token's hash with the
// device context that requested it.
func (s *AuthService) issueTokens(ctx context.Context, user *models.User, device DeviceInfo) (*TokenPair, error) {
	accessToken, err := s.codec.SignAccess(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to sign access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	refreshToken, err := s.codec.SignRefresh(user.ID)
	if err != nil {
		s.logger.Error("failed to sign refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if _, err := s.refreshTokens.Create(ctx, &models.RefreshToken{
		TokenHash: pkgauth.HashToken(refreshToken),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenExpiry),
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	}); err != nil {
		return nil, s.storeErr("store refresh token", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// invalidateAccessTokens stamps the per-user cutoff that kills every access
// token issued before now. Best-effort: without the blacklist those tokens
// simply run out their short TTL.
func (s *AuthService) invalidateAccessTokens(ctx context.Context, userID string) {
	if s.blacklist == nil {
		return
	}
	if err := s.blacklist.InvalidateUserTokens(ctx, userID, s.cfg.AccessTokenExpiry); err != nil {
		s.logger.Warn("failed to invalidate outstanding access tokens",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

func (s *AuthService) auditLoginFailure(userID string, device DeviceInfo, reason string) {
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     device.IPAddress,
		UserAgent:     device.UserAgent,
		Success:       false,
		FailureReason: reason,
	})
}

func (s *AuthService) auditRefreshFailure(userID string, device DeviceInfo, reason string) {
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "refresh_failed",
		UserID:        userID,
		IPAddress:     device.IPAddress,
		Success:       false,
		FailureReason: reason,
	})
}

// storeErr keeps retryable unavailability distinct and collapses everything
// else to an opaque internal error after logging the detail.
func (s *AuthService) storeErr(op string, err error) error {
	if errors.Is(err, models.ErrServiceUnavailable) {
		s.logger.Warn("store unavailable", slog.String("op", op), slog.Any("error", err))
		return models.ErrServiceUnavailable
	}
	s.logger.Error("store operation failed", slog.String("op", op), slog.Any("error", err))
	return models.ErrInternalServer
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toUserResponse(user *models.User) *UserResponse {
	resp := &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		TOTPEnabled:   user.TOTPEnabled,
		CreatedAt:     user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if user.LastLoginAt != nil {
		last := user.LastLoginAt.UTC().Format(time.RFC3339)
		resp.LastLoginAt = &last
	}
	return resp
}
