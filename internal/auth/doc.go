// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

// Package auth provides account authentication for the storefront and its
// backoffice.
//
// # Domain Types
//
// Domain types (User, UserSession, PasswordReset) should be created using
// their respective constructors:
//   - NewUser - creates a pending, active User with a normalized email
//   - NewUserSession - creates a UserSession for an issued bearer token
//   - NewPasswordReset - creates a PasswordReset with a future expiry
//
// Only SHA256 digests of bearer tokens and reset tokens are stored.
//
// # Services
//
// Service coordinates registration, login, password changes, password
// resets, sessions and backoffice approval. Login succeeds only for active
// accounts whose backoffice status is approved; registration itself is not
// gated. Sweeper removes expired sessions and resets in the background.
//
// Failures carry one of the sentinel errors (ErrValidation, ErrConflict,
// ErrAuthentication, ErrInvalidToken, ErrExpiredToken, ErrNotFound); use
// KindOf to classify them and PublicMessage for caller-facing text.
package auth
