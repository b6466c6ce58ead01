package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ===========================================================================
// Code inspection
// ===========================================================================

func TestAsError(t *testing.T) {
	t.Parallel()

	inner := New(CodeFunctionNotFound, "missing")
	wrapped := fmt.Errorf("resolve: %w", inner)

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, e)

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)

	_, ok = AsError(nil)
	assert.False(t, ok)
}

func TestGetCode_HasCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", New(CodeRateLimited, "slow down"))
	assert.Equal(t, CodeRateLimited, GetCode(err))
	assert.True(t, HasCode(err, CodeRateLimited))
	assert.False(t, HasCode(err, CodeInternal))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
}

// ===========================================================================
// Category checks
// ===========================================================================

func TestCategoryChecks(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidation(New(CodeValidationRequired, "")))
	assert.True(t, IsAuthentication(AuthenticationRequired()))
	assert.True(t, IsAuthentication(InvalidCredentials(nil)))
	assert.True(t, IsAuthorization(PermissionDenied("a")))
	assert.True(t, IsNotFound(FunctionNotFound("a")))
	assert.True(t, IsRateLimited(RateLimited(1, 0)))
	assert.True(t, IsInternal(New(CodeExecutionFailed, "")))
	assert.True(t, IsUnavailable(New(CodeUnavailableDependency, "")))
	assert.True(t, IsTimeout(New(CodeTimeoutDatabase, "")))
	assert.True(t, IsConfiguration(New(CodeInternalConfiguration, "")))

	assert.False(t, IsAuthentication(PermissionDenied("a")))
	assert.False(t, IsNotFound(errors.New("not found")))
}

func TestIsSecurityEvent(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSecurityEvent(PermissionDenied("orders.create")))
	assert.True(t, IsSecurityEvent(FunctionDisabled("orders.create")))
	assert.False(t, IsSecurityEvent(RateLimited(5, 0)))
	assert.False(t, IsSecurityEvent(InvalidCredentials(nil)))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(New(CodeTimeout, "")))
	assert.True(t, IsRetryable(New(CodeUnavailable, "")))
	assert.True(t, IsRetryable(RateLimited(1, 0)))
	assert.False(t, IsRetryable(New(CodeInternal, "")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestClientServerErrors(t *testing.T) {
	t.Parallel()

	assert.True(t, IsClientError(FunctionNotFound("x")))
	assert.True(t, IsClientError(RateLimited(1, 0)))
	assert.False(t, IsClientError(Internal("x")))

	assert.True(t, IsServerError(Internal("x")))
	assert.True(t, IsServerError(New(CodeTimeoutDatabase, "")))
	assert.False(t, IsServerError(Validation("x")))
	assert.False(t, IsServerError(nil))
}

func TestFromError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, FromError(nil))

	typed := Validation("bad")
	assert.Same(t, typed, FromError(fmt.Errorf("wrap: %w", typed)))

	plain := errors.New("boom")
	converted := FromError(plain)
	assert.Equal(t, CodeInternal, converted.Code)
	assert.Equal(t, plain, converted.Cause)
}

func TestWrap_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil, CodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "x %d", 1))
}

func TestCode_Category(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTHZ", CodeFunctionDisabled.Category())
	assert.Equal(t, "RATE", CodeRateLimited.Category())
	assert.Equal(t, "NOPREFIX", Code("NOPREFIX").Category())
	assert.Equal(t, "", Code("").Category())
}
