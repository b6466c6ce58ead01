package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX and are stable once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	RATE_xxx    - Admission errors (429 Too Many Requests)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Dependency unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required parameter is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a parameter has an invalid format or type.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationRange indicates a value is outside its acceptable range.
	CodeValidationRange Code = "VAL_004"

	// CodeAuthenticationRequired indicates no recognized credential was presented.
	CodeAuthenticationRequired Code = "AUTH_001"

	// CodeInvalidCredentials indicates a credential was presented and rejected.
	CodeInvalidCredentials Code = "AUTH_002"

	// CodeCredentialExpired indicates a token was valid but has expired.
	CodeCredentialExpired Code = "AUTH_003"

	// CodePermissionDenied indicates the caller holds no matching permission.
	CodePermissionDenied Code = "AUTHZ_001"

	// CodeFunctionDisabled indicates the target function exists but is inactive.
	CodeFunctionDisabled Code = "AUTHZ_002"

	// CodeClientInactive indicates the caller was deactivated after authenticating.
	CodeClientInactive Code = "AUTHZ_003"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeFunctionNotFound indicates the target function identifier is unknown.
	CodeFunctionNotFound Code = "NF_002"

	// CodeClientNotFound indicates a client lookup found no record.
	CodeClientNotFound Code = "NF_003"

	// CodeRateLimited indicates the caller exhausted its rate budget.
	CodeRateLimited Code = "RATE_001"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a malformed function definition or
	// gateway configuration.
	CodeInternalConfiguration Code = "INT_003"

	// CodeExecutionFailed indicates the downstream procedure failed with an
	// unmapped error.
	CodeExecutionFailed Code = "INT_004"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependency (database, cache,
	// identity provider) is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependency timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// Public wire codes rendered in the response envelope.
const (
	PublicAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	PublicInvalidCredentials     = "INVALID_CREDENTIALS"
	PublicFunctionNotFound       = "FUNCTION_NOT_FOUND"
	PublicFunctionDisabled       = "FUNCTION_DISABLED"
	PublicPermissionDenied       = "PERMISSION_DENIED"
	PublicValidationError        = "VALIDATION_ERROR"
	PublicRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	PublicInternalError          = "INTERNAL_ERROR"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// Public returns the wire code a caller sees for this internal code.
// Internal, unavailable and timeout categories all collapse to
// INTERNAL_ERROR.
func (c Code) Public() string {
	switch c {
	case CodeAuthenticationRequired:
		return PublicAuthenticationRequired
	case CodeFunctionDisabled:
		return PublicFunctionDisabled
	}
	switch c.Category() {
	case "VAL":
		return PublicValidationError
	case "AUTH":
		return PublicInvalidCredentials
	case "AUTHZ":
		return PublicPermissionDenied
	case "NF":
		return PublicFunctionNotFound
	case "RATE":
		return PublicRateLimitExceeded
	default:
		return PublicInternalError
	}
}
