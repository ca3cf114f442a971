// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32 // 32 bytes = 64 hex chars
	DefaultResetTTL  = 15 * time.Minute
	DefaultTokenTTL  = 24 * time.Hour
	maxPendingListed = 500
)

// PasswordReset is an outstanding forgot-password request. Only the digest of
// the one-time secret is kept.
type PasswordReset struct {
	ID        ulid.ULID
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewPasswordReset creates a validated PasswordReset instance.
func NewPasswordReset(userID int64, tokenHash string, expiresAt, now time.Time) (*PasswordReset, error) {
	if userID <= 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID must be positive")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}
	return &PasswordReset{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpired returns true if the reset token has expired.
func (r *PasswordReset) IsExpired() bool {
	return r.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the reset would be expired at the given time.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// The plaintext token goes to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// ResetTicket is handed to the mail collaborator after a reset request.
// Token is the only copy of the plaintext secret.
type ResetTicket struct {
	Token       string
	DisplayName string
	Email       string
	ExpiresAt   time.Time
}

// PasswordResetRepository manages password reset persistence.
type PasswordResetRepository interface {
	// Create stores a new password reset request.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset request by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// ListActiveByUser returns the non-expired reset requests of a user.
	ListActiveByUser(ctx context.Context, userID int64) ([]*PasswordReset, error)

	// CountActiveByUser returns the number of non-expired reset requests of a user.
	CountActiveByUser(ctx context.Context, userID int64) (int, error)

	// Consume atomically deletes the reset with the given hash and returns it.
	// Of several concurrent callers at most one receives the record; the
	// others get ErrNotFound.
	Consume(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Delete removes a password reset request.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all reset requests of a user and returns the count.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes all expired reset requests and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
