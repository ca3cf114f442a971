// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors identifying the failure kinds returned by this package.
// Every error produced by Service wraps exactly one of these (or none, for
// internal failures), so callers classify with errors.Is or KindOf.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input the caller can fix.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a unique constraint (email) would be violated.
	ErrConflict = errors.New("conflict")

	// ErrAuthentication is returned for rejected credentials or an unapproved account.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidToken is returned for unknown, malformed or forged tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a reset token is past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// Kind classifies an error for callers that map failures onto a transport.
type Kind int

// Failure kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
	KindInvalidToken
	KindExpiredToken
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "expired_token"
	default:
		return "internal"
	}
}

// KindOf returns the failure kind of err. Errors that wrap none of the
// package sentinels are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrExpiredToken):
		return KindExpiredToken
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// PublicMessage returns a message safe to show an end user. Internal failures
// collapse to a generic message; classified failures expose their own message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Public(); msg != "" {
			return msg
		}
	}
	return KindOf(err).String()
}

// Violations returns the rule violations attached to a validation error,
// or nil when err carries none.
func Violations(err error) []string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	v, ok := oopsErr.Context()["violations"].([]string)
	if !ok {
		return nil
	}
	return v
}

// validationError builds a coded validation failure carrying its violations.
func validationError(code, public string, violations []string) error {
	return oops.Code(code).
		With("violations", violations).
		Public(public).
		Wrapf(ErrValidation, "%s", public)
}
