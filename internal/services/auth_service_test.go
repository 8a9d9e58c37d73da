package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesisplatform/auth-api/internal/models"
	pkgauth "github.com/genesisplatform/auth-api/pkg/auth"
)

// ----------------------------------------------------------------------------
// Register
// ----------------------------------------------------------------------------

func TestAuthService_Register_Success(t *testing.T) {
	var storedVerificationHash string
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			require.NotNil(t, user.EmailVerificationTokenHash)
			storedVerificationHash = *user.EmailVerificationTokenHash
			assert.False(t, user.EmailVerified)
			assert.True(t, user.IsActive)
			assert.Equal(t, models.RoleUser, user.Role)
			assert.NotEqual(t, testPassword, user.PasswordHash)
			user.ID = "user-1"
			user.CreatedAt = time.Now()
			user.UpdatedAt = time.Now()
			return user, nil
		},
	}
	var mailedToken string
	mailer := &MockMailer{
		SendVerificationEmailFunc: func(ctx context.Context, email, rawToken string) error {
			mailedToken = rawToken
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, mailer, nil)

	resp, err := svc.Register(context.Background(), "Jane", "Jane@Example.com ", testPassword, DeviceInfo{})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", resp.User.Email)
	assert.True(t, resp.VerificationEmailSent)
	require.NotNil(t, resp.Tokens)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)

	// The store holds a hash, the mail carries the raw token.
	assert.NotEmpty(t, mailedToken)
	assert.NotEqual(t, mailedToken, storedVerificationHash)
	assert.Equal(t, pkgauth.HashToken(mailedToken), storedVerificationHash)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			return nil, models.ErrDuplicateEmail
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Register(context.Background(), "Jane", "jane@example.com", testPassword, DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)
}

func TestAuthService_Register_WeakPasswordRejectedBeforeStore(t *testing.T) {
	createCalled := false
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			createCalled = true
			return user, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Register(context.Background(), "Jane", "jane@example.com", "short", DeviceInfo{})
	assert.ErrorIs(t, err, pkgauth.ErrPasswordPolicy)
	assert.False(t, createCalled)
}

func TestAuthService_Register_EmailFailureReportedNotFatal(t *testing.T) {
	mailer := &MockMailer{
		SendVerificationEmailFunc: func(ctx context.Context, email, rawToken string) error {
			return errors.New("ses is down")
		},
	}
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, mailer, nil)

	resp, err := svc.Register(context.Background(), "Jane", "jane@example.com", testPassword, DeviceInfo{})
	require.NoError(t, err)
	assert.False(t, resp.VerificationEmailSent)
	assert.NotNil(t, resp.Tokens)
}

func TestAuthService_Register_TokenIssuancePolicyOff(t *testing.T) {
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)
	svc.cfg.RegisterIssuesTokens = false

	resp, err := svc.Register(context.Background(), "Jane", "jane@example.com", testPassword, DeviceInfo{})
	require.NoError(t, err)
	assert.Nil(t, resp.Tokens)
}

// ----------------------------------------------------------------------------
// Login
// ----------------------------------------------------------------------------

func TestAuthService_Login_Success(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	successRecorded := false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			assert.Equal(t, "jane@example.com", email)
			return user, nil
		},
		RecordLoginSuccessFunc: func(ctx context.Context, id string) error {
			successRecorded = true
			return nil
		},
	}
	var storedHash string
	tokens := &MockRefreshTokenRepository{
		CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
			storedHash = token.TokenHash
			assert.Equal(t, "user-1", token.UserID)
			assert.Equal(t, "203.0.113.9", token.IPAddress)
			return token, nil
		},
	}
	svc := newTestAuthService(users, tokens, &MockMailer{}, nil)

	resp, err := svc.Login(context.Background(), "Jane@Example.com", testPassword, "", DeviceInfo{IPAddress: "203.0.113.9", UserAgent: "test-agent"})
	require.NoError(t, err)

	assert.True(t, successRecorded)
	assert.Equal(t, pkgauth.HashToken(resp.Tokens.RefreshToken), storedHash)

	claims, err := svc.codec.VerifyAccess(resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthService_Login_UnknownEmailAndWrongPasswordSameError(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if email == "jane@example.com" {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, errUnknown := svc.Login(context.Background(), "nobody@example.com", testPassword, "", DeviceInfo{})
	_, errWrongPw := svc.Login(context.Background(), "jane@example.com", testWrongPassword, "", DeviceInfo{})

	assert.ErrorIs(t, errUnknown, models.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPw, models.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())
}

func TestAuthService_Login_UnknownEmailBurnsHashingCost(t *testing.T) {
	if testing.Short() {
		t.Skip("timing measurement")
	}

	user := newTestUser(t, "user-1", "jane@example.com")
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if email == "jane@example.com" {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	median := func(email, password string) time.Duration {
		const rounds = 9
		samples := make([]time.Duration, 0, rounds)
		for i := 0; i < rounds; i++ {
			start := time.Now()
			_, err := svc.Login(context.Background(), email, password, "", DeviceInfo{})
			samples = append(samples, time.Since(start))
			require.ErrorIs(t, err, models.ErrInvalidCredentials)
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		return samples[len(samples)/2]
	}

	unknown := median("nobody@example.com", testPassword)
	wrongPw := median("jane@example.com", testWrongPassword)

	// Both rejection paths must pay the bcrypt toll. Before the decoy
	// verification, the unknown-email path returned an order of magnitude
	// faster and leaked which addresses hold accounts. The bound is loose
	// on purpose; this guards against the short-circuit coming back, not
	// against scheduler jitter.
	assert.GreaterOrEqual(t, unknown, wrongPw/3,
		"unknown-email rejection must not be measurably cheaper than a wrong password")
}

func TestAuthService_Login_FailureIncrementsCounter(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	recorded := false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		RecordLoginFailureFunc: func(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error) {
			recorded = true
			assert.Equal(t, "user-1", id)
			assert.Equal(t, 5, threshold)
			return 1, nil, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Login(context.Background(), "jane@example.com", testWrongPassword, "", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.True(t, recorded)
}

func TestAuthService_Login_LockedAccountSkipsPasswordCheck(t *testing.T) {
	until := time.Now().Add(10 * time.Minute)
	user := newTestUser(t, "user-1", "jane@example.com")
	user.FailedLoginAttempts = 5
	user.LockedUntil = &until

	failureRecorded := false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		RecordLoginFailureFunc: func(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error) {
			failureRecorded = true
			return 6, &until, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	// Even the correct password is rejected while locked, and the attempt
	// does not extend the lock.
	_, err := svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.False(t, failureRecorded)

	var locked *models.AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.Greater(t, locked.RetryAfterSeconds(), int64(0))
	assert.LessOrEqual(t, locked.RetryAfterSeconds(), int64(600))
}

func TestAuthService_Login_ExpiredLockClearsAndSucceeds(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	user := newTestUser(t, "user-1", "jane@example.com")
	user.FailedLoginAttempts = 5
	user.LockedUntil = &past

	cleared := false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		ClearExpiredLockFunc: func(ctx context.Context, id string) error {
			cleared = true
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	resp, err := svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.NotNil(t, resp.Tokens)
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	user.IsActive = false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrAccountInactive)
}

func TestAuthService_Login_UnverifiedEmailGate(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	user.EmailVerified = false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	// Default policy allows unverified logins.
	_, err := svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	require.NoError(t, err)

	svc.cfg.RequireVerifiedEmail = true
	_, err = svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
}

func TestAuthService_Login_TOTPRequired(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	user.TOTPEnabled = true
	user.TOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Login(context.Background(), "jane@example.com", testPassword, "", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrMFARequired)

	_, err = svc.Login(context.Background(), "jane@example.com", testPassword, "000000", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

// ----------------------------------------------------------------------------
// Refresh
// ----------------------------------------------------------------------------

func TestAuthService_Refresh_RotatesToken(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	refreshToken, err := svc.codec.SignRefresh(user.ID)
	require.NoError(t, err)
	presentedHash := pkgauth.HashToken(refreshToken)

	var rotatedOld string
	var rotatedNew *models.RefreshToken
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	tokens := &MockRefreshTokenRepository{
		GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
			return &models.RefreshToken{
				ID:        "rt-1",
				TokenHash: tokenHash,
				UserID:    user.ID,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
		RotateFunc: func(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error) {
			rotatedOld = oldTokenHash
			rotatedNew = successor
			return successor, nil
		},
	}
	svc = newTestAuthService(users, tokens, &MockMailer{}, nil)

	resp, err := svc.Refresh(context.Background(), refreshToken, DeviceInfo{IPAddress: "203.0.113.9"})
	require.NoError(t, err)

	assert.Equal(t, presentedHash, rotatedOld)
	require.NotNil(t, rotatedNew)
	assert.Equal(t, pkgauth.HashToken(resp.Tokens.RefreshToken), rotatedNew.TokenHash)
	assert.NotEqual(t, refreshToken, resp.Tokens.RefreshToken)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
}

func TestAuthService_Refresh_GarbageTokenRejected(t *testing.T) {
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	_, err := svc.Refresh(context.Background(), "not-a-jwt", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestAuthService_Refresh_AccessTokenRejected(t *testing.T) {
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	// Access tokens are signed with a different secret; presenting one as a
	// refresh token must fail at signature check.
	accessToken, err := svc.codec.SignAccess("user-1", "jane@example.com", models.RoleUser)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), accessToken, DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestAuthService_Refresh_RevokedTokenIsReuseSignal(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	rotateCalled := false
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	tokens := &MockRefreshTokenRepository{
		GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
			return &models.RefreshToken{
				ID:        "rt-1",
				TokenHash: tokenHash,
				UserID:    user.ID,
				IsRevoked: true,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
		RotateFunc: func(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error) {
			rotateCalled = true
			return successor, nil
		},
	}
	svc := newTestAuthService(users, tokens, &MockMailer{}, nil)

	refreshToken, err := svc.codec.SignRefresh(user.ID)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), refreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
	assert.False(t, rotateCalled)
}

func TestAuthService_Refresh_LostRotationRace(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	tokens := &MockRefreshTokenRepository{
		GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
			return &models.RefreshToken{
				ID:        "rt-1",
				TokenHash: tokenHash,
				UserID:    user.ID,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
		RotateFunc: func(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error) {
			// A concurrent refresh won the conditional update.
			return nil, models.ErrInvalidRefreshToken
		},
	}
	svc := newTestAuthService(users, tokens, &MockMailer{}, nil)

	refreshToken, err := svc.codec.SignRefresh(user.ID)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), refreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
}

func TestAuthService_Refresh_PasswordChangeInvalidatesToken(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	refreshToken, err := svc.codec.SignRefresh(user.ID)
	require.NoError(t, err)

	changed := time.Now().Add(time.Minute)
	user.PasswordChangedAt = &changed

	revoked := false
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	tokens := &MockRefreshTokenRepository{
		GetByHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
			return &models.RefreshToken{
				ID:        "rt-1",
				TokenHash: tokenHash,
				UserID:    user.ID,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
		RevokeFunc: func(ctx context.Context, tokenHash, userID string) error {
			revoked = true
			return nil
		},
	}
	svc = newTestAuthService(users, tokens, &MockMailer{}, nil)

	_, err = svc.Refresh(context.Background(), refreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
	assert.True(t, revoked)
}

// ----------------------------------------------------------------------------
// Logout
// ----------------------------------------------------------------------------

func TestAuthService_Logout_RevokesAndBlacklists(t *testing.T) {
	var revokedHash, revokedUser string
	tokens := &MockRefreshTokenRepository{
		RevokeFunc: func(ctx context.Context, tokenHash, userID string) error {
			revokedHash = tokenHash
			revokedUser = userID
			return nil
		},
	}
	var blacklistedJTI string
	var blacklistTTL time.Duration
	blacklist := &MockBlacklist{
		BlacklistTokenFunc: func(ctx context.Context, jti string, ttl time.Duration) error {
			blacklistedJTI = jti
			blacklistTTL = ttl
			return nil
		},
	}
	svc := newTestAuthService(&MockUserRepository{}, tokens, &MockMailer{}, blacklist)

	err := svc.Logout(context.Background(), "user-1", "some-refresh-token", "jti-1", time.Now().Add(10*time.Minute), DeviceInfo{})
	require.NoError(t, err)

	assert.Equal(t, pkgauth.HashToken("some-refresh-token"), revokedHash)
	assert.Equal(t, "user-1", revokedUser)
	assert.Equal(t, "jti-1", blacklistedJTI)
	assert.Greater(t, blacklistTTL, 9*time.Minute)
}

func TestAuthService_Logout_IdempotentAndBlacklistFailureTolerated(t *testing.T) {
	blacklist := &MockBlacklist{
		BlacklistTokenFunc: func(ctx context.Context, jti string, ttl time.Duration) error {
			return errors.New("redis down")
		},
	}
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, blacklist)

	// Revoke of an unknown token is a no-op success, and a failed blacklist
	// write does not fail the logout.
	err := svc.Logout(context.Background(), "user-1", "unknown-token", "jti-1", time.Now().Add(time.Minute), DeviceInfo{})
	assert.NoError(t, err)

	err = svc.Logout(context.Background(), "user-1", "unknown-token", "jti-1", time.Now().Add(time.Minute), DeviceInfo{})
	assert.NoError(t, err)
}

func TestAuthService_LogoutAll_ReturnsCount(t *testing.T) {
	tokens := &MockRefreshTokenRepository{
		RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
			return 3, nil
		},
	}
	svc := newTestAuthService(&MockUserRepository{}, tokens, &MockMailer{}, nil)

	count, err := svc.LogoutAll(context.Background(), "user-1", DeviceInfo{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

// ----------------------------------------------------------------------------
// Email verification
// ----------------------------------------------------------------------------

func TestAuthService_VerifyEmail_HashesTokenBeforeLookup(t *testing.T) {
	var lookedUp string
	users := &MockUserRepository{
		VerifyEmailByTokenHashFunc: func(ctx context.Context, tokenHash string) (string, error) {
			lookedUp = tokenHash
			return "user-1", nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	err := svc.VerifyEmail(context.Background(), "raw-token-value")
	require.NoError(t, err)
	assert.Equal(t, pkgauth.HashToken("raw-token-value"), lookedUp)
}

func TestAuthService_VerifyEmail_UnknownAndExpiredCollapse(t *testing.T) {
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	err := svc.VerifyEmail(context.Background(), "stale-or-bogus")
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)
}

func TestAuthService_ResendVerification_NoEnumerationOracle(t *testing.T) {
	verified := newTestUser(t, "user-1", "verified@example.com")
	sendCount := 0
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if email == "verified@example.com" {
				return verified, nil
			}
			return nil, models.ErrNotFound
		},
	}
	mailer := &MockMailer{
		SendVerificationEmailFunc: func(ctx context.Context, email, rawToken string) error {
			sendCount++
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, mailer, nil)

	// Unknown address and already-verified address both succeed silently.
	assert.NoError(t, svc.ResendVerification(context.Background(), "nobody@example.com"))
	assert.NoError(t, svc.ResendVerification(context.Background(), "verified@example.com"))
	assert.Equal(t, 0, sendCount)
}

// ----------------------------------------------------------------------------
// Password reset
// ----------------------------------------------------------------------------

func TestAuthService_ForgotPassword_UnknownEmailSilent(t *testing.T) {
	tokenStored := false
	users := &MockUserRepository{
		SetResetTokenFunc: func(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
			tokenStored = true
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	err := svc.ForgotPassword(context.Background(), "nobody@example.com")
	assert.NoError(t, err)
	assert.False(t, tokenStored)
}

func TestAuthService_ForgotPassword_MailFailureRollsBackToken(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	cleared := false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		ClearResetTokenFunc: func(ctx context.Context, id string) error {
			cleared = true
			assert.Equal(t, "user-1", id)
			return nil
		},
	}
	mailer := &MockMailer{
		SendPasswordResetEmailFunc: func(ctx context.Context, email, rawToken string) error {
			return errors.New("ses is down")
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, mailer, nil)

	err := svc.ForgotPassword(context.Background(), "jane@example.com")
	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.True(t, cleared)
}

func TestAuthService_ResetPassword_RevokesAllSessions(t *testing.T) {
	var newHash string
	users := &MockUserRepository{
		ResetPasswordByTokenHashFunc: func(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
			assert.Equal(t, pkgauth.HashToken("raw-reset-token"), tokenHash)
			newHash = newPasswordHash
			return "user-1", nil
		},
	}
	var revokedUser string
	tokens := &MockRefreshTokenRepository{
		RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
			revokedUser = userID
			return 2, nil
		},
	}
	svc := newTestAuthService(users, tokens, &MockMailer{}, nil)

	err := svc.ResetPassword(context.Background(), "raw-reset-token", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "user-1", revokedUser)
	assert.NotEqual(t, testPassword, newHash)
}

func TestAuthService_ResetPassword_InvalidatesOutstandingAccessTokens(t *testing.T) {
	users := &MockUserRepository{
		ResetPasswordByTokenHashFunc: func(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
			return "user-1", nil
		},
	}
	var stampedUser string
	var stampedTTL time.Duration
	blacklist := &MockBlacklist{
		InvalidateUserTokensFunc: func(ctx context.Context, userID string, ttl time.Duration) error {
			stampedUser = userID
			stampedTTL = ttl
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, blacklist)

	err := svc.ResetPassword(context.Background(), "raw-reset-token", testPassword)
	require.NoError(t, err)

	// Refresh tokens die in the store; access tokens already in the wild
	// die through the per-user cutoff, kept for one access-token lifetime.
	assert.Equal(t, "user-1", stampedUser)
	assert.Equal(t, testAuthConfig().AccessTokenExpiry, stampedTTL)
}

func TestAuthService_ResetPassword_CutoffFailureNotFatal(t *testing.T) {
	users := &MockUserRepository{
		ResetPasswordByTokenHashFunc: func(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
			return "user-1", nil
		},
	}
	blacklist := &MockBlacklist{
		InvalidateUserTokensFunc: func(ctx context.Context, userID string, ttl time.Duration) error {
			return errors.New("redis down")
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, blacklist)

	err := svc.ResetPassword(context.Background(), "raw-reset-token", testPassword)
	assert.NoError(t, err)
}

func TestAuthService_ResetPassword_StaleToken(t *testing.T) {
	svc := newTestAuthService(&MockUserRepository{}, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	err := svc.ResetPassword(context.Background(), "stale", testPassword)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)
}

func TestAuthService_ChangePassword_WrongCurrent(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	updated := false
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
		UpdatePasswordFunc: func(ctx context.Context, id, newPasswordHash string) error {
			updated = true
			return nil
		},
	}
	svc := newTestAuthService(users, &MockRefreshTokenRepository{}, &MockMailer{}, nil)

	err := svc.ChangePassword(context.Background(), "user-1", testWrongPassword, "New-Harbor-44", DeviceInfo{})
	assert.ErrorIs(t, err, models.ErrInvalidCurrentPassword)
	assert.False(t, updated)
}

func TestAuthService_ChangePassword_Success(t *testing.T) {
	user := newTestUser(t, "user-1", "jane@example.com")
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	revoked := false
	tokens := &MockRefreshTokenRepository{
		RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
			revoked = true
			return 1, nil
		},
	}
	var stampedUser string
	blacklist := &MockBlacklist{
		InvalidateUserTokensFunc: func(ctx context.Context, userID string, ttl time.Duration) error {
			stampedUser = userID
			return nil
		},
	}
	svc := newTestAuthService(users, tokens, &MockMailer{}, blacklist)

	err := svc.ChangePassword(context.Background(), "user-1", testPassword, "New-Harbor-44", DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, "user-1", stampedUser)
}
