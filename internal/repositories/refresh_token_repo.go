package repositories

import (
	"context"
	"time"

	"github.com/genesisplatform/auth-api/internal/database"
	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const refreshTokenColumns = `id, token_hash, user_id, expires_at, is_revoked,
	ip_address, user_agent, created_at, last_used_at`

type RefreshTokenRepository struct {
	db *database.DB
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken

	err := scanner.Scan(
		&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.IsRevoked,
		&t.IPAddress, &t.UserAgent, &t.CreatedAt, &t.LastUsedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	token.ID = uuid.New().String()

	now := time.Now()
	token.CreatedAt = now
	token.LastUsedAt = now

	query := `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, is_revoked,
			ip_address, user_agent, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + refreshTokenColumns

	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query,
		token.ID, token.TokenHash, token.UserID, token.ExpiresAt, token.IsRevoked,
		token.IPAddress, token.UserAgent, token.CreatedAt, token.LastUsedAt,
	))
}

// GetByHash looks up a record by the SHA-256 of the presented token.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Rotate revokes the presented token and inserts its successor in one
// transaction. The conditional UPDATE is the compare-and-swap: of two
// concurrent rotations of the same token, the second sees is_revoked already
// TRUE, updates zero rows, and gets ErrInvalidRefreshToken. A reused
// (already-rotated) token takes the same path, which is what makes reuse
// detectable upstream.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldTokenHash string, successor *models.RefreshToken) (*models.RefreshToken, error) {
	successor.ID = uuid.New().String()

	now := time.Now()
	successor.CreatedAt = now
	successor.LastUsedAt = now

	var rotated *models.RefreshToken
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		revoke := `
			UPDATE refresh_tokens
			SET is_revoked = TRUE, last_used_at = NOW()
			WHERE token_hash = $1 AND is_revoked = FALSE AND expires_at > NOW()
		`

		result, err := tx.Exec(ctx, revoke, oldTokenHash)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrInvalidRefreshToken
		}

		insert := `
			INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, is_revoked,
				ip_address, user_agent, created_at, last_used_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8)
			RETURNING ` + refreshTokenColumns

		rotated, err = scanRefreshTokenRow(tx.QueryRow(ctx, insert,
			successor.ID, successor.TokenHash, successor.UserID, successor.ExpiresAt,
			successor.IPAddress, successor.UserAgent, successor.CreatedAt, successor.LastUsedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}

	return rotated, nil
}

// Revoke marks a user's token revoked. Revoking an already-revoked or
// unknown token is a no-op success, which makes logout idempotent.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash, userID string) error {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, last_used_at = NOW()
		WHERE token_hash = $1 AND user_id = $2 AND is_revoked = FALSE
	`

	_, err := r.db.Pool.Exec(ctx, query, tokenHash, userID)
	return database.MapPostgresError(err)
}

// RevokeAllForUser invalidates every outstanding token for the user.
// Password reset and change both call this to force re-login everywhere.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, last_used_at = NOW()
		WHERE user_id = $1 AND is_revoked = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// CleanupExpired deletes expired rows and revoked rows past a one-day grace
// period. The grace keeps recently-rotated rows around so token reuse still
// reads as "revoked" in the logs rather than vanishing entirely.
func (r *RefreshTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < NOW()
			OR (is_revoked = TRUE AND last_used_at < NOW() - INTERVAL '24 hours')
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
