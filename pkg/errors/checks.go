package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error by traversing the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error, or "" if it carries none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports whether err is an authentication error (AUTH_xxx).
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports whether err is an authorization error (AUTHZ_xxx).
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsNotFound reports whether err is a not found error (NF_xxx).
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsRateLimited reports whether err is an admission error (RATE_xxx).
func IsRateLimited(err error) bool { return hasCategory(err, "RATE") }

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports whether err is a dependency-unavailable error.
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsConfiguration reports whether err is a malformed-definition error. These
// are server defects and are logged at error severity.
func IsConfiguration(err error) bool {
	return HasCode(err, CodeInternalConfiguration)
}

// IsSecurityEvent reports whether err should be recorded as a security
// event. Authorization failures qualify because repeated occurrences may
// indicate probing; admission failures do not.
func IsSecurityEvent(err error) bool {
	return IsAuthorization(err)
}

// IsRetryable reports whether the failed operation may succeed on retry.
// The gateway itself never retries; the flag is surfaced to callers.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL", "RATE":
		return true
	default:
		return false
	}
}

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	status := e.HTTPStatus()
	return status >= 400 && status < 500
}

// IsServerError reports whether err maps to a 5xx status.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.HTTPStatus() >= 500
}
