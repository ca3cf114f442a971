// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storeauth/internal/auth"
	"github.com/storefront/storeauth/pkg/errutil"
)

var userCols = []string{
	"id", "email", "password_hash", "first_name", "last_name",
	"is_active", "backoffice_status", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func testUser(now time.Time) *auth.User {
	return &auth.User{
		Email:            "alice@example.com",
		PasswordHash:     "$argon2id$hash",
		FirstName:        "Alice",
		LastName:         "Smith",
		IsActive:         true,
		BackofficeStatus: auth.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("assigns id from sequence", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser(now)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WithArgs(user.Email, user.PasswordHash, "Alice", "Smith", true, "pending", now, now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

		repo := NewUserRepository(mock)
		require.NoError(t, repo.Create(ctx, user))
		assert.Equal(t, int64(7), user.ID)
	})

	t.Run("maps unique violation to conflict", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser(now)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		repo := NewUserRepository(mock)
		err := repo.Create(ctx, user)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
		errutil.AssertErrorCode(t, err, "USER_EMAIL_TAKEN")
	})

	t.Run("wraps other database errors", func(t *testing.T) {
		mock := newMockPool(t)
		user := testUser(now)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		repo := NewUserRepository(mock)
		err := repo.Create(ctx, user)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrConflict)
		assert.Contains(t, err.Error(), "connection refused")
		errutil.AssertErrorCode(t, err, "USER_CREATE_FAILED")
	})
}

func TestUserRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns user", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows(userCols).
				AddRow(int64(7), "alice@example.com", "hash", "Alice", "Smith", true, "approved", now, now))

		repo := NewUserRepository(mock)
		user, err := repo.GetByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, auth.StatusApproved, user.BackofficeStatus)
		assert.True(t, user.IsActive)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(int64(99)).
			WillReturnRows(pgxmock.NewRows(userCols))

		repo := NewUserRepository(mock)
		_, err := repo.GetByID(ctx, 99)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows(userCols).
				AddRow(int64(7), "alice@example.com", "hash", "", "", true, "banned", now, now))

		repo := NewUserRepository(mock)
		_, err := repo.GetByID(ctx, 7)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_GetByIDForUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("locks the row inside the caller's transaction", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows(userCols).
				AddRow(int64(7), "alice@example.com", "hash", "Alice", "Smith", true, "pending", now, now))
		mock.ExpectCommit()

		repo := NewUserRepository(mock)
		var got *auth.User
		err := NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
			var err error
			got, err = repo.GetByIDForUpdate(ctx, 7)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, auth.StatusPending, got.BackofficeStatus)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs(int64(99)).
			WillReturnRows(pgxmock.NewRows(userCols))

		_, err := NewUserRepository(mock).GetByIDForUpdate(ctx, 99)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs(int64(7)).
			WillReturnError(errors.New("lock timeout"))

		_, err := NewUserRepository(mock).GetByIDForUpdate(ctx, 7)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_GET_FAILED")
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(email) = lower($1)")).
		WithArgs("Alice@Example.com").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(3), "alice@example.com", "hash", "Alice", "", true, "pending", now, now))

	repo := NewUserRepository(mock)
	user, err := repo.GetByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.ID)
	assert.Equal(t, auth.StatusPending, user.BackofficeStatus)
}

func TestUserRepository_Update(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		result    pgconn.CommandTag
		execErr   error
		wantIs    error
		wantCode  string
		wantNoErr bool
	}{
		{name: "updates row", result: pgxmock.NewResult("UPDATE", 1), wantNoErr: true},
		{name: "no row is not found", result: pgxmock.NewResult("UPDATE", 0), wantIs: auth.ErrNotFound, wantCode: "USER_NOT_FOUND"},
		{name: "duplicate email is conflict", execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, wantIs: auth.ErrConflict, wantCode: "USER_EMAIL_TAKEN"},
		{name: "database error", execErr: errors.New("timeout"), wantCode: "USER_UPDATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			user := testUser(now)
			user.ID = 7

			exp := mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
				WithArgs(int64(7), user.Email, user.PasswordHash, "Alice", "Smith", true, "pending", now)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(tt.result)
			}

			repo := NewUserRepository(mock)
			err := repo.Update(ctx, user)
			if tt.wantNoErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestUserRepository_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users")).
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, NewUserRepository(mock).Delete(ctx, 7))
	})

	t.Run("missing row is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users")).
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := NewUserRepository(mock).Delete(ctx, 7)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_EmailExists(t *testing.T) {
	ctx := context.Background()

	for _, exists := range []bool{true, false} {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("alice@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))

		got, err := NewUserRepository(mock).EmailExists(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, exists, got)
	}
}

func TestUserRepository_ListByBackofficeStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE backoffice_status = $1")).
		WithArgs("pending", 10).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(1), "a@example.com", "h", "A", "", true, "pending", now, now).
			AddRow(int64(2), "b@example.com", "h", "B", "", true, "pending", now.Add(time.Minute), now))

	users, err := NewUserRepository(mock).ListByBackofficeStatus(ctx, auth.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, "b@example.com", users[1].Email)
}
