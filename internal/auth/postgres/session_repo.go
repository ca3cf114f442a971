// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storeauth/internal/auth"
)

const sessionColumns = `id, user_id, token_hash, user_agent, ip_address, expires_at, created_at, last_seen_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.UserSession) error {
	_, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		INSERT INTO user_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID.String(),
		session.UserID,
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastSeenAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert user_session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.UserSession, error) {
	row := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// ListByUser returns every session of a user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64) ([]*auth.UserSession, error) {
	return r.list(ctx, "list sessions by user", `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

// ListActiveByUser returns the non-expired sessions of a user, newest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*auth.UserSession, error) {
	return r.list(ctx, "list active sessions by user", `
		SELECT `+sessionColumns+`
		FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, userID)
}

// CountActiveByUser returns the number of non-expired sessions of a user.
func (r *SessionRepository) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := querierFromCtx(ctx, r.db).QueryRow(ctx, `
		SELECT COUNT(*) FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()
	`, userID).Scan(&count)
	if err != nil {
		return 0, oops.Code("SESSION_COUNT_FAILED").
			With("operation", "count active sessions").
			With("user_id", userID).
			Wrap(err)
	}
	return count, nil
}

// Extend pushes the expiry of a live session forward. It never shortens a
// session and never revives one that has expired or been invalidated.
func (r *SessionRepository) Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) error {
	return r.execOne(ctx, "SESSION_EXTEND_FAILED", "extend session", id, `
		UPDATE user_sessions SET expires_at = GREATEST(expires_at, $2)
		WHERE id = $1 AND expires_at > NOW()
	`, id.String(), expiresAt)
}

// Invalidate force-expires a session while keeping the row for audit.
func (r *SessionRepository) Invalidate(ctx context.Context, id ulid.ULID) error {
	return r.execOne(ctx, "SESSION_INVALIDATE_FAILED", "invalidate session", id, `
		UPDATE user_sessions SET expires_at = LEAST(expires_at, NOW())
		WHERE id = $1
	`, id.String())
}

// Touch updates the LastSeenAt timestamp.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.execOne(ctx, "SESSION_TOUCH_FAILED", "update last_seen_at", id, `
		UPDATE user_sessions SET last_seen_at = $2
		WHERE id = $1
	`, id.String(), at)
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return r.execOne(ctx, "SESSION_DELETE_FAILED", "delete user_session", id, `
		DELETE FROM user_sessions WHERE id = $1
	`, id.String())
}

// DeleteByUser removes all sessions of a user. Deleting nothing is not an
// error.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM user_sessions WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user_sessions by user").
			With("user_id", userID).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, `
		DELETE FROM user_sessions WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired user_sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func (r *SessionRepository) list(ctx context.Context, operation, sql string, userID int64) ([]*auth.UserSession, error) {
	rows, err := querierFromCtx(ctx, r.db).Query(ctx, sql, userID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", operation).
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.UserSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}
	return sessions, nil
}

// execOne runs a single-row statement and maps zero affected rows to
// auth.ErrNotFound.
func (r *SessionRepository) execOne(ctx context.Context, code, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := querierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code(code).
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanSession scans a single row into a UserSession.
// pgx.ErrNoRows is returned unchanged.
func scanSession(row scanner) (*auth.UserSession, error) {
	var (
		idStr string
		s     auth.UserSession
	)
	err := row.Scan(&idStr, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	s.ID, err = parseID(idStr, "session_id")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
