// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storeauth/internal/auth"
)

const resetColumns = `id, user_id, token_hash, expires_at, created_at`

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new password reset request.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		INSERT INTO password_resets (`+resetColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`,
		reset.ID.String(),
		reset.UserID,
		reset.TokenHash,
		reset.ExpiresAt,
		reset.CreatedAt,
	)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset request by its token hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+resetColumns+`
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_TOKEN_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

// ListActiveByUser returns the non-expired reset requests of a user, newest first.
func (r *PasswordResetRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*auth.PasswordReset, error) {
	rows, err := querierFromCtx(ctx, r.db).Query(ctx, `
		SELECT `+resetColumns+`
		FROM password_resets
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, oops.Code("RESET_LIST_FAILED").
			With("operation", "list active resets by user").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var resets []*auth.PasswordReset
	for rows.Next() {
		reset, err := scanReset(rows)
		if err != nil {
			return nil, oops.Code("RESET_SCAN_FAILED").
				With("operation", "scan reset row").
				Wrap(err)
		}
		resets = append(resets, reset)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("RESET_ROWS_ERROR").
			With("operation", "iterate reset rows").
			Wrap(err)
	}
	return resets, nil
}

// CountActiveByUser returns the number of non-expired reset requests of a user.
func (r *PasswordResetRepository) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT COUNT(*) FROM password_resets
		WHERE user_id = $1 AND expires_at > NOW()
	`, userID).Scan(&count)
	if err != nil {
		return 0, oops.Code("RESET_COUNT_FAILED").
			With("operation", "count active resets").
			With("user_id", userID).
			Wrap(err)
	}
	return count, nil
}

// Consume deletes the reset with the given hash and returns it. The delete
// is a single statement, so concurrent callers cannot both receive the row.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1
		RETURNING `+resetColumns, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume password_reset").
			Wrap(err)
	}
	return reset, nil
}

// Delete removes a password reset request.
func (r *PasswordResetRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM password_resets WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete password_reset").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all reset requests of a user. Deleting nothing is
// not an error.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM password_resets WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_BY_USER_FAILED").
			With("operation", "delete password_resets by user").
			With("user_id", userID).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes all expired reset requests and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM password_resets WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanReset scans a single row into a PasswordReset.
// pgx.ErrNoRows is returned unchanged.
func scanReset(row scanner) (*auth.PasswordReset, error) {
	var (
		idStr string
		reset auth.PasswordReset
	)
	err := row.Scan(&idStr, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	reset.ID, err = parseID(idStr, "reset_id")
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
