// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storeauth/internal/auth"
	"github.com/storefront/storeauth/pkg/errutil"
)

var resetCols = []string{"id", "user_id", "token_hash", "expires_at", "created_at"}

func TestPasswordResetRepository_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset, err := auth.NewPasswordReset(7, "hash", now.Add(15*time.Minute), now)
	require.NoError(t, err)

	t.Run("inserts row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO password_resets")).
			WithArgs(reset.ID.String(), int64(7), "hash", now.Add(15*time.Minute), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPasswordResetRepository(mock).Create(ctx, reset))
	})

	t.Run("wraps database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO password_resets")).
			WithArgs(reset.ID.String(), int64(7), "hash", now.Add(15*time.Minute), now).
			WillReturnError(errors.New("disk full"))

		err := NewPasswordResetRepository(mock).Create(ctx, reset)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "RESET_CREATE_FAILED")
	})
}

func TestPasswordResetRepository_GetByTokenHash(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := ulid.Make()

	t.Run("returns reset", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM password_resets")).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows(resetCols).AddRow(id.String(), int64(7), "hash", now, now))

		got, err := NewPasswordResetRepository(mock).GetByTokenHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, int64(7), got.UserID)
	})

	t.Run("missing reset is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM password_resets")).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows(resetCols))

		_, err := NewPasswordResetRepository(mock).GetByTokenHash(ctx, "hash")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "RESET_NOT_FOUND")
	})
}

func TestPasswordResetRepository_Consume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := ulid.Make()

	t.Run("returns deleted row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM password_resets")).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows(resetCols).AddRow(id.String(), int64(7), "hash", now, now))

		got, err := NewPasswordResetRepository(mock).Consume(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	})

	t.Run("already consumed is not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM password_resets")).
			WithArgs("hash").
			WillReturnRows(pgxmock.NewRows(resetCols))

		_, err := NewPasswordResetRepository(mock).Consume(ctx, "hash")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestPasswordResetRepository_Deletes(t *testing.T) {
	ctx := context.Background()

	t.Run("delete missing row is not found", func(t *testing.T) {
		mock := newMockPool(t)
		id := ulid.Make()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM password_resets WHERE id = $1")).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := NewPasswordResetRepository(mock).Delete(ctx, id)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("delete by user returns count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM password_resets WHERE user_id = $1")).
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))

		n, err := NewPasswordResetRepository(mock).DeleteByUser(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("delete expired returns count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM password_resets WHERE expires_at <= NOW()")).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		n, err := NewPasswordResetRepository(mock).DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("count active", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM password_resets")).
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

		n, err := NewPasswordResetRepository(mock).CountActiveByUser(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
