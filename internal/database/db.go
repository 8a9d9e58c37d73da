package database

import (
	"context"
	"errors"

	"github.com/genesisplatform/auth-api/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into the model's sentinel errors.
// Context timeouts become ErrServiceUnavailable so callers surface a retryable
// 503 instead of leaking driver details.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrDuplicateEmail
		case "23503", "23502": // foreign_key_violation, not_null_violation
			return models.ErrInternalServer
		case "57014": // query_canceled, raised when statement_timeout fires
			return models.ErrServiceUnavailable
		}
	}

	if pgconn.Timeout(err) {
		return models.ErrServiceUnavailable
	}

	return err
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic. Refresh-token rotation relies on this: the conditional revoke and
// the successor insert must commit or fail together.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
