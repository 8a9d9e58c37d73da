package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/genesisplatform/auth-api/internal/database"
	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, password_hash, role, is_active, email_verified,
	email_verification_token_hash, email_verification_expires_at,
	password_reset_token_hash, password_reset_expires_at,
	failed_login_attempts, locked_until, totp_secret, totp_enabled,
	password_changed_at, last_login_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User from a row.
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.EmailVerified,
		&user.EmailVerificationTokenHash, &user.EmailVerificationExpiresAt,
		&user.PasswordResetTokenHash, &user.PasswordResetExpiresAt,
		&user.FailedLoginAttempts, &user.LockedUntil,
		&user.TOTPSecret, &user.TOTPEnabled,
		&user.PasswordChangedAt, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail expects an already-normalized (lowercase, trimmed) address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleUser
	}

	query := fmt.Sprintf(`
		INSERT INTO users (id, email, name, password_hash, role, is_active, email_verified,
			email_verification_token_hash, email_verification_expires_at,
			password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING %s
	`, userColumns)

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.Role, user.IsActive, user.EmailVerified,
		user.EmailVerificationTokenHash, user.EmailVerificationExpiresAt,
		user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// RecordLoginFailure counts a failed password check and, when the new count
// reaches the threshold, opens the lock window — all in one statement, so
// concurrent failures cannot lose an increment or double-apply the lock.
// Returns the post-increment count and the lock deadline, if one is now set.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockDuration time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 AND (locked_until IS NULL OR locked_until <= NOW())
					THEN NOW() + make_interval(secs => $3)
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, threshold, lockDuration.Seconds()).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	return attempts, lockedUntil, nil
}

// ClearExpiredLock resets the failure counter once the lock window has
// passed. Conditional on the deadline so a live lock is never cleared.
func (r *UserRepository) ClearExpiredLock(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_until IS NOT NULL AND locked_until <= NOW()
	`

	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// RecordLoginSuccess resets the failure counter and stamps last_login_at.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL,
			last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetVerificationToken stores a new verification token hash, replacing any
// previous one.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET email_verification_token_hash = $2, email_verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, tokenHash, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// VerifyEmailByTokenHash flips email_verified and clears both verification
// fields in one conditional update keyed on the hash and an unexpired
// deadline. Missing and expired collapse to the same ErrNotFound.
func (r *UserRepository) VerifyEmailByTokenHash(ctx context.Context, tokenHash string) (string, error) {
	query := `
		UPDATE users
		SET email_verified = TRUE,
			email_verification_token_hash = NULL,
			email_verification_expires_at = NULL,
			updated_at = NOW()
		WHERE email_verification_token_hash = $1 AND email_verification_expires_at > NOW()
		RETURNING id
	`

	var userID string
	if err := r.pool.QueryRow(ctx, query, tokenHash).Scan(&userID); err != nil {
		return "", database.MapPostgresError(err)
	}
	return userID, nil
}

// SetResetToken stores a password-reset token hash with its expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token_hash = $2, password_reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, tokenHash, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearResetToken removes a pending reset token. Used to roll back when the
// reset email cannot be sent, so no unusable token lingers.
func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET password_reset_token_hash = NULL, password_reset_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// ResetPasswordByTokenHash swaps in the new hash and clears the reset fields
// in one conditional update. A stale or unknown token changes nothing.
func (r *UserRepository) ResetPasswordByTokenHash(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
	query := `
		UPDATE users
		SET password_hash = $2,
			password_reset_token_hash = NULL,
			password_reset_expires_at = NULL,
			password_changed_at = NOW() - INTERVAL '1 second',
			updated_at = NOW()
		WHERE password_reset_token_hash = $1 AND password_reset_expires_at > NOW()
		RETURNING id
	`

	var userID string
	if err := r.pool.QueryRow(ctx, query, tokenHash, newPasswordHash).Scan(&userID); err != nil {
		return "", database.MapPostgresError(err)
	}
	return userID, nil
}

// UpdatePassword stores a new hash and stamps password_changed_at, which
// invalidates every token issued before this moment. The stamp is backdated
// one second so tokens signed immediately after the change stay valid despite
// second-granularity iat claims.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, newPasswordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = NOW() - INTERVAL '1 second', updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, newPasswordHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetTOTPSecret stores a pending TOTP secret; enabling it is a separate step
// gated on a valid code.
func (r *UserRepository) SetTOTPSecret(ctx context.Context, id, secret string) error {
	query := `UPDATE users SET totp_secret = $2, totp_enabled = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, secret)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) EnableTOTP(ctx context.Context, id string) error {
	query := `UPDATE users SET totp_enabled = TRUE, updated_at = NOW() WHERE id = $1 AND totp_secret <> ''`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) DisableTOTP(ctx context.Context, id string) error {
	query := `UPDATE users SET totp_enabled = FALSE, totp_secret = '', updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes the account; the core never hard-deletes users.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
