// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Field length limits for account input.
const (
	MaxEmailLength = 254
	MaxNameLength  = 100
)

// RegisterInput is the typed registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	// ConfirmPassword is checked only when set.
	ConfirmPassword *string
}

// Validate checks field shape. The password, including its presence, is
// left to the password policy so that every rule it breaks is reported.
func (in RegisterInput) Validate() error {
	in.Email = NormalizeEmail(in.Email)
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, MaxEmailLength), is.Email),
		validation.Field(&in.FirstName, validation.Length(0, MaxNameLength)),
		validation.Field(&in.LastName, validation.Length(0, MaxNameLength)),
	)
}

// LoginInput is the typed login request. UserAgent and IPAddress are
// recorded on the session when present.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// Validate checks that both credentials are present.
func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

// validateEmail checks a single email address.
func validateEmail(email string) error {
	return validation.Validate(email, validation.Required, validation.Length(3, MaxEmailLength), is.Email)
}

// fieldViolations flattens ozzo validation errors into sorted
// "field: message" strings.
func fieldViolations(err error) []string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for field, ferr := range verrs {
		out = append(out, fmt.Sprintf("%s: %s", field, ferr.Error()))
	}
	sort.Strings(out)
	return out
}
