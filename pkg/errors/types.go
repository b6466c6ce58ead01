package errors

import (
	"fmt"
	"maps"
	"net/http"
)

// Error represents a structured error with a code, message, and optional cause.
//
// Status and Public override the category-derived HTTP status and wire code.
// They are set only for downstream failures translated through a function's
// error mappings, where the function definition decides what the caller sees.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_001").
	Code Code

	// Message is the human-readable error message. It may be shown to
	// callers and must not contain credentials or internal paths.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details contains additional structured data (field-level validation
	// errors, retry hints) rendered under error.details.
	Details map[string]any

	// Status overrides HTTPStatus when non-zero.
	Status int

	// Public overrides PublicCode when non-empty.
	Public string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of this error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "RATE":
		return http.StatusTooManyRequests
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicCode returns the wire code rendered in the failure envelope.
func (e *Error) PublicCode() string {
	if e.Public != "" {
		return e.Public
	}
	return e.Code.Public()
}

// PublicMessage returns the message safe to render to a caller. Server-side
// failures never leak their message; mapped downstream errors carry the
// message configured on the function definition.
func (e *Error) PublicMessage() string {
	if e.Public == "" && e.HTTPStatus() >= http.StatusInternalServerError {
		return "an internal error occurred"
	}
	return e.Message
}

// WithDetails returns a copy of the error with the given details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := e.clone(len(details))
	maps.Copy(out.Details, details)
	return out
}

// WithDetail returns a copy of the error with a single detail added.
func (e *Error) WithDetail(key string, value any) *Error {
	out := e.clone(1)
	out.Details[key] = value
	return out
}

// WithStatus returns a copy of the error that renders with the given HTTP
// status and public code.
func (e *Error) WithStatus(status int, public string) *Error {
	out := e.clone(0)
	out.Status = status
	out.Public = public
	return out
}

func (e *Error) clone(extra int) *Error {
	details := make(map[string]any, len(e.Details)+extra)
	maps.Copy(details, e.Details)
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
		Status:  e.Status,
		Public:  e.Public,
	}
}

// Format implements fmt.Formatter. Use %+v to include details and the cause
// chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
