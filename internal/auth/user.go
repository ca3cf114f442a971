// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
)

// BackofficeStatus is the approval state gating operator login.
type BackofficeStatus string

// Backoffice approval states.
const (
	StatusPending  BackofficeStatus = "pending"
	StatusApproved BackofficeStatus = "approved"
	StatusRejected BackofficeStatus = "rejected"
)

// Valid reports whether s is a known approval state.
func (s BackofficeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ParseBackofficeStatus converts a stored value into a BackofficeStatus.
func ParseBackofficeStatus(v string) (BackofficeStatus, error) {
	s := BackofficeStatus(v)
	if !s.Valid() {
		return "", oops.Code("USER_INVALID_STATUS").
			With("status", v).
			Errorf("unknown backoffice status %q", v)
	}
	return s, nil
}

// User is a storefront or backoffice account.
type User struct {
	ID               int64
	Email            string
	PasswordHash     string `json:"-"`
	FirstName        string
	LastName         string
	IsActive         bool
	BackofficeStatus BackofficeStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewUser creates a validated, not yet persisted User.
// The email is normalized; the account starts active and pending approval.
func NewUser(email, passwordHash, firstName, lastName string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		Email:            email,
		PasswordHash:     passwordHash,
		FirstName:        strings.TrimSpace(firstName),
		LastName:         strings.TrimSpace(lastName),
		IsActive:         true,
		BackofficeStatus: StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// DisplayName returns the name used to greet the user, falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Profile returns the public projection of the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		IsActive:         u.IsActive,
		BackofficeStatus: u.BackofficeStatus,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// UserPatch lists the fields a caller wants to change. Nil fields are kept.
type UserPatch struct {
	Email            *string
	PasswordHash     *string
	FirstName        *string
	LastName         *string
	IsActive         *bool
	BackofficeStatus *BackofficeStatus
}

// Apply returns a copy of u with the patch overlaid and UpdatedAt set to now.
// The receiver is not modified.
func (u User) Apply(p UserPatch, now time.Time) User {
	if p.Email != nil {
		u.Email = NormalizeEmail(*p.Email)
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.BackofficeStatus != nil {
		u.BackofficeStatus = *p.BackofficeStatus
	}
	u.UpdatedAt = now
	return u
}

// Profile is the user projection returned to collaborators. It never carries
// credential material.
type Profile struct {
	ID               int64            `json:"id"`
	Email            string           `json:"email"`
	FirstName        string           `json:"first_name"`
	LastName         string           `json:"last_name"`
	IsActive         bool             `json:"is_active"`
	BackofficeStatus BackofficeStatus `json:"backoffice_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NormalizeEmail trims and lowercases an email address. All storage and
// comparison use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user and assigns its ID.
	// Returns an ErrConflict error if the email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByIDForUpdate retrieves a user by ID and locks the row until the
	// enclosing transaction ends. Read-modify-write paths use it so that
	// Update never writes back a stale copy.
	GetByIDForUpdate(ctx context.Context, id int64) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update replaces the stored record with the same ID.
	// Returns ErrNotFound if no such user exists.
	Update(ctx context.Context, user *User) error

	// Delete removes a user. Sessions and resets cascade.
	Delete(ctx context.Context, id int64) error

	// EmailExists reports whether an account uses the email (case-insensitive).
	EmailExists(ctx context.Context, email string) (bool, error)

	// ListByBackofficeStatus returns up to limit users in the given state,
	// oldest first.
	ListByBackofficeStatus(ctx context.Context, status BackofficeStatus, limit int) ([]*User, error)
}
