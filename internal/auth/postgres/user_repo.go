// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/storefront/storeauth/internal/auth"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active, backoffice_status, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user and assigns user.ID from the database sequence.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	err := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, is_active, backoffice_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		string(user.BackofficeStatus),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return oops.Code("USER_EMAIL_TAKEN").Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.getByID(ctx, id, "get user by id", `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`)
}

// GetByIDForUpdate retrieves a user by ID with a row lock held until the
// transaction in ctx ends. Outside a transaction the lock is released as
// soon as the statement completes.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id int64) (*auth.User, error) {
	return r.getByID(ctx, id, "lock user by id", `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		FOR UPDATE
	`)
}

func (r *UserRepository) getByID(ctx context.Context, id int64, operation, sql string) (*auth.User, error) {
	user, err := scanUser(querierFromCtx(ctx, r.db).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("user_id", id).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", operation).
			With("user_id", id).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// Update replaces the stored record with the same ID.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			first_name = $4,
			last_name = $5,
			is_active = $6,
			backoffice_status = $7,
			updated_at = $8
		WHERE id = $1
	`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		string(user.BackofficeStatus),
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("user_id", user.ID).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", user.ID).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user. Sessions and resets are removed by ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("user_id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// EmailExists reports whether an account uses the email, ignoring case.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))
	`, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_CHECK_FAILED").
			With("operation", "check email exists").
			Wrap(err)
	}
	return exists, nil
}

// ListByBackofficeStatus returns up to limit users in the given state,
// oldest first.
func (r *UserRepository) ListByBackofficeStatus(ctx context.Context, status auth.BackofficeStatus, limit int) ([]*auth.User, error) {
	rows, err := querierFromCtx(ctx, r.db).Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE backoffice_status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").
			With("operation", "list users by backoffice status").
			With("status", string(status)).
			Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_SCAN_FAILED").
				With("operation", "scan user row").
				Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_ROWS_ERROR").
			With("operation", "iterate user rows").
			Wrap(err)
	}
	return users, nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged.
func scanUser(row scanner) (*auth.User, error) {
	var (
		status string
		u      auth.User
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsActive, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	u.BackofficeStatus, err = auth.ParseBackofficeStatus(status)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
