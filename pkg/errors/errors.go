// Package errors provides the structured error type used across the gateway.
// Every failure that can reach a caller carries a machine-readable [Code], a
// human-readable message safe to show to clients, an optional cause, and
// optional structured details.
//
// # Error Categories
//
// Codes follow the pattern CATEGORY_XXX. The category decides the HTTP status
// and the public wire code rendered in the response envelope:
//
//   - VAL: request parameters failed validation (400, VALIDATION_ERROR)
//   - AUTH: no credential or a rejected credential (401)
//   - AUTHZ: caller or target not allowed (403)
//   - NF: target function does not exist (404, FUNCTION_NOT_FOUND)
//   - RATE: caller exceeded its rate budget (429, RATE_LIMIT_EXCEEDED)
//   - INT: internal failures, including malformed function definitions (500)
//   - UNAVAIL: a dependency is unavailable (503)
//   - TIMEOUT: an operation exceeded its deadline (504)
//
// Internal categories are never rendered verbatim; see [Error.PublicCode].
//
// # Usage
//
//	err := errors.New(errors.CodeFunctionNotFound, "function not found")
//
//	if errors.IsRateLimited(err) {
//	    // render Retry-After
//	}
package errors
