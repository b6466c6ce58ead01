// Package testutil holds assertions shared by the gateway's package tests.
// Every helper calls t.Helper so failures point at the caller.
package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code.
//
//	_, err := resolver.Load(ctx, "missing", true)
//	testutil.RequireErrorCode(t, err, sserr.CodeFunctionNotFound)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "code mismatch (message: %s)", e.Message)
}

// AssertErrorCode is the non-fatal form of [RequireErrorCode], for table
// rows that should all be checked.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "code mismatch (message: %s)", e.Message)
}

// AssertPublicError checks the HTTP status and wire code err renders with.
func AssertPublicError(t testing.TB, err error, status int, public string) bool {
	t.Helper()
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, status, e.HTTPStatus(), "status mismatch") &&
		assert.Equal(t, public, e.PublicCode(), "public code mismatch")
}

// AssertJSONContains checks that v marshals to JSON containing expected.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), expected)
}

// AssertJSONNotContains checks that v's JSON omits unexpected, e.g. a
// secret.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), unexpected)
}
