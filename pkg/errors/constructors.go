package errors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// New creates a new Error with the specified code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message. If err is nil, Wrap
// returns nil.
//
// Example:
//
//	row, err := store.FindClientByKey(ctx, key)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "client lookup failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a formatted message. If err is nil,
// Wrapf returns nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation creates a new validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a new validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// AuthenticationRequired creates the error returned when a request carries
// no recognized credential scheme.
func AuthenticationRequired() *Error {
	return New(CodeAuthenticationRequired, "authentication credentials were not provided")
}

// InvalidCredentials creates the error returned when a credential was
// presented and rejected. The message is deliberately uniform so callers
// cannot distinguish unknown keys from inactive clients.
func InvalidCredentials(cause error) *Error {
	return &Error{
		Code:    CodeInvalidCredentials,
		Message: "invalid authentication credentials",
		Cause:   cause,
	}
}

// PermissionDenied creates an authorization failure for a function.
func PermissionDenied(identifier string) *Error {
	return Newf(CodePermissionDenied, "permission denied for function %q", identifier)
}

// FunctionNotFound creates a not found error for a function identifier.
func FunctionNotFound(identifier string) *Error {
	return Newf(CodeFunctionNotFound, "function %q not found", identifier)
}

// FunctionDisabled creates the error returned for an inactive function.
func FunctionDisabled(identifier string) *Error {
	return Newf(CodeFunctionDisabled, "function %q is disabled", identifier)
}

// RateLimited creates the admission failure for an exhausted budget. The
// retry hint is rounded up to whole seconds and never below one.
func RateLimited(limit int, retryAfter time.Duration) *Error {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return &Error{
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
		Details: map[string]any{
			"max_attempts": limit,
			"retry_after":  secs,
		},
	}
}

// Internal creates a new internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates a new internal error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable creates a new service unavailable error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout creates a new timeout error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// FromError converts any error to an *Error. Errors that already carry a
// code are returned as-is; anything else becomes an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
