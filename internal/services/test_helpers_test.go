package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/config"
	"github.com/genesisplatform/auth-api/internal/models"
	pkgauth "github.com/genesisplatform/auth-api/pkg/auth"
	pkglogger "github.com/genesisplatform/auth-api/pkg/logger"
)

// MockUserRepository implements UserRepository and MFAUserRepository with
// per-call overrides.
type MockUserRepository struct {
	GetByIDFunc                  func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc               func(ctx context.Context, email string) (*models.User, error)
	CreateFunc                   func(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFailureFunc       func(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error)
	ClearExpiredLockFunc         func(ctx context.Context, id string) error
	RecordLoginSuccessFunc       func(ctx context.Context, id string) error
	SetVerificationTokenFunc     func(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	VerifyEmailByTokenHashFunc   func(ctx context.Context, tokenHash string) (string, error)
	SetResetTokenFunc            func(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetTokenFunc          func(ctx context.Context, id string) error
	ResetPasswordByTokenHashFunc func(ctx context.Context, tokenHash, newPasswordHash string) (string, error)
	UpdatePasswordFunc           func(ctx context.Context, id, newPasswordHash string) error
	DeactivateFunc               func(ctx context.Context, id string) error
	SetTOTPSecretFunc            func(ctx context.Context, id, secret string) error
	EnableTOTPFunc               func(ctx context.Context, id string) error
	DisableTOTPFunc              func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	user.ID = "user-1"
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return user, nil
}

func (m *MockUserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error) {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, id, threshold, lockDuration)
	}
	return 1, nil, nil
}

func (m *MockUserRepository) ClearExpiredLock(ctx context.Context, id string) error {
	if m.ClearExpiredLockFunc != nil {
		return m.ClearExpiredLockFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) RecordLoginSuccess(ctx context.Context, id string) error {
	if m.RecordLoginSuccessFunc != nil {
		return m.RecordLoginSuccessFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	if m.SetVerificationTokenFunc != nil {
		return m.SetVerificationTokenFunc(ctx, id, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockUserRepository) VerifyEmailByTokenHash(ctx context.Context, tokenHash string) (string, error) {
	if m.VerifyEmailByTokenHashFunc != nil {
		return m.VerifyEmailByTokenHashFunc(ctx, tokenHash)
	}
	return "", models.ErrNotFound
}

func (m *MockUserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	if m.SetResetTokenFunc != nil {
		return m.SetResetTokenFunc(ctx, id, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockUserRepository) ClearResetToken(ctx context.Context, id string) error {
	if m.ClearResetTokenFunc != nil {
		return m.ClearResetTokenFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) ResetPasswordByTokenHash(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
	if m.ResetPasswordByTokenHashFunc != nil {
		return m.ResetPasswordByTokenHashFunc(ctx, tokenHash, newPasswordHash)
	}
	return "", models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, newPasswordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, newPasswordHash)
	}
	return nil
}

func (m *MockUserRepository) Deactivate(ctx context.Context, id string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SetTOTPSecret(ctx context.Context, id, secret string) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, secret)
	}
	return nil
}

func (m *MockUserRepository) EnableTOTP(ctx context.Context, id string) error {
	if m.EnableTOTPFunc != nil {
		return m.EnableTOTPFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) DisableTOTP(ctx context.Context, id string) error {
	if m.DisableTOTPFunc != nil {
		return m.DisableTOTPFunc(ctx, id)
	}
	return nil
}

// MockRefreshTokenRepository implements RefreshTokenRepository.
type MockRefreshTokenRepository struct {
	CreateFunc           func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByHashFunc        func(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateFunc           func(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error)
	RevokeFunc           func(ctx context.Context, tokenHash, userID string) error
	RevokeAllForUserFunc func(ctx context.Context, userID string) (int64, error)
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "rt-1"
	token.CreatedAt = time.Now()
	return token, nil
}

func (m *MockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) Rotate(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, oldTokenHash, successor)
	}
	successor.ID = "rt-2"
	return successor, nil
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, tokenHash, userID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, tokenHash, userID)
	}
	return nil
}

func (m *MockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return 0, nil
}

// MockMailer implements Mailer.
type MockMailer struct {
	SendVerificationEmailFunc  func(ctx context.Context, email, rawToken string) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, rawToken string) error
}

func (m *MockMailer) SendVerificationEmail(ctx context.Context, email, rawToken string) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, rawToken)
	}
	return nil
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, email, rawToken string) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, rawToken)
	}
	return nil
}

// MockBlacklist implements TokenBlacklist.
type MockBlacklist struct {
	BlacklistTokenFunc       func(ctx context.Context, jti string, ttl time.Duration) error
	InvalidateUserTokensFunc func(ctx context.Context, userID string, ttl time.Duration) error
}

func (m *MockBlacklist) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if m.BlacklistTokenFunc != nil {
		return m.BlacklistTokenFunc(ctx, jti, ttl)
	}
	return nil
}

func (m *MockBlacklist) InvalidateUserTokens(ctx context.Context, userID string, ttl time.Duration) error {
	if m.InvalidateUserTokensFunc != nil {
		return m.InvalidateUserTokensFunc(ctx, userID, ttl)
	}
	return nil
}

const (
	testPassword      = "Sunlit-Harbor-42"
	testWrongPassword = "Moonlit-Harbor-43"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:            "test-access-secret-0123456789ab",
		RefreshSecret:           "test-refresh-secret-0123456789a",
		Issuer:                  "genesis-auth-api",
		Audience:                "genesis-users",
		AccessTokenExpiry:       15 * time.Minute,
		RefreshTokenExpiry:      7 * 24 * time.Hour,
		BcryptCost:              4,
		MinPasswordLength:       8,
		LockoutThreshold:        5,
		LockoutDuration:         30 * time.Minute,
		VerificationTokenExpiry: 24 * time.Hour,
		ResetTokenExpiry:        1 * time.Hour,
		RegisterIssuesTokens:    true,
	}
}

// newTestAuthService wires an AuthService with mocks and a real codec,
// hasher, and lockout policy. Bcrypt runs at its minimum cost.
func newTestAuthService(users *MockUserRepository, tokens *MockRefreshTokenRepository, mailer *MockMailer, blacklist TokenBlacklist) *AuthService {
	cfg := testAuthConfig()
	logger := slog.Default()

	codec := auth.NewTokenCodec(
		cfg.AccessSecret, cfg.RefreshSecret,
		cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry,
		cfg.Issuer, cfg.Audience,
	)
	hasher := pkgauth.NewHasher(cfg.BcryptCost, cfg.MinPasswordLength)
	lockout := auth.NewLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration)
	mfa := NewMFAService(users, cfg.Issuer, logger)

	return NewAuthService(
		users, tokens, codec, hasher, lockout, mfa,
		mailer, blacklist, cfg, logger, pkglogger.NewAuditLogger(logger),
	)
}

func hashTestPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := pkgauth.NewHasher(4, 8).Hash(password)
	require.NoError(t, err)
	return hash
}

// newTestUser returns an active, verified user with the test password.
func newTestUser(t *testing.T, id, email string) *models.User {
	t.Helper()
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          "Test User",
		PasswordHash:  hashTestPassword(t, testPassword),
		Role:          models.RoleUser,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
