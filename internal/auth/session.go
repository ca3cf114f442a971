// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// UserSession records one issued bearer token. It is revocable state, not a
// credential: access is granted by the signed token itself.
type UserSession struct {
	ID         ulid.ULID
	UserID     int64
	TokenHash  string
	UserAgent  string
	IPAddress  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewUserSession creates a validated UserSession instance.
// UserAgent and IPAddress are optional and may be empty.
func NewUserSession(userID int64, tokenHash, userAgent, ipAddress string, expiresAt, now time.Time) (*UserSession, error) {
	if userID <= 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID must be positive")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &UserSession{
		ID:         ulid.Make(),
		UserID:     userID,
		TokenHash:  tokenHash,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// IsExpired returns true if the session has expired.
func (s *UserSession) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *UserSession) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// HashToken computes the SHA256 hex digest stored in place of a secret.
// Session and reset records both keep only this digest.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyTokenHash checks a plaintext secret against a stored digest in
// constant time.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *UserSession) error

	// GetByTokenHash retrieves a session by its token hash, expired or not.
	GetByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error)

	// ListByUser returns every session of a user, newest first.
	ListByUser(ctx context.Context, userID int64) ([]*UserSession, error)

	// ListActiveByUser returns the non-expired sessions of a user, newest first.
	ListActiveByUser(ctx context.Context, userID int64) ([]*UserSession, error)

	// CountActiveByUser returns the number of non-expired sessions of a user.
	CountActiveByUser(ctx context.Context, userID int64) (int, error)

	// Extend pushes the expiry of a live session out to expiresAt. An expiry
	// already later than expiresAt is kept. Expired or force-expired sessions
	// are not revived and report ErrNotFound.
	Extend(ctx context.Context, id ulid.ULID, expiresAt time.Time) error

	// Invalidate force-expires a session while keeping the row.
	Invalidate(ctx context.Context, id ulid.ULID) error

	// Touch updates the LastSeenAt timestamp.
	Touch(ctx context.Context, id ulid.ULID, at time.Time) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all sessions of a user and returns the count.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes all expired sessions and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
