// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err is a non-nil oops error.
func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err, "expected an error")
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error whose reported code is
// code. Since oops reports the innermost code, this is the code assigned
// closest to the failure.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertCodedError asserts both the code and the failure class of err. The
// class is the sentinel err must wrap, such as a package's ErrNotFound.
func AssertCodedError(t *testing.T, err error, code string, kind error) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.True(t, errors.Is(err, kind), "expected %v to wrap %v", err, kind)
}

// AssertPublicMessage asserts the caller-safe message attached with
// oops Public.
func AssertPublicMessage(t *testing.T, err error, msg string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, msg, oopsErr.Public())
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	fields := requireOops(t, err).Context()
	if assert.Contains(t, fields, key) {
		assert.Equal(t, value, fields[key])
	}
}
