// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password length bounds applied by DefaultPasswordPolicy.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordPolicy holds the password strength rules. The zero value of the
// Require* fields disables those checks; MinLength and MaxLength always apply.
type PasswordPolicy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy returns the policy applied when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength: MinPasswordLength,
		MaxLength: MaxPasswordLength,
	}
}

// PolicyResult is the outcome of a policy check. Errors lists every violated
// rule, not just the first.
type PolicyResult struct {
	Valid  bool
	Errors []string
}

// Validate checks password against every rule in the policy.
func (p PasswordPolicy) Validate(password string) PolicyResult {
	var errs []string

	minLen := p.MinLength
	if minLen < MinPasswordLength {
		minLen = MinPasswordLength
	}
	length := utf8.RuneCountInString(password)
	if length < minLen {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", minLen))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		errs = append(errs, fmt.Sprintf("password must be at most %d characters", p.MaxLength))
	}
	if password != "" && strings.TrimSpace(password) == "" {
		errs = append(errs, "password cannot consist only of whitespace")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.RequireUpper && !hasUpper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		errs = append(errs, "password must contain a digit")
	}
	if p.RequireSymbol && !hasSymbol {
		errs = append(errs, "password must contain a symbol")
	}

	return PolicyResult{Valid: len(errs) == 0, Errors: errs}
}
