// Package errors provides standardized API error types.
package errors

import (
	"errors"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		Reason:     e.Reason,
		StatusCode: e.StatusCode,
	}
}

// WithReason returns a copy of the error carrying the upstream reason.
func (e *APIError) WithReason(reason string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Reason:     reason,
		StatusCode: e.StatusCode,
	}
}

// Standard error definitions
var (
	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrUnauthorized is returned when the trading platform rejects the credentials.
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "Invalid credentials",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrTokenMissing is returned when no bearer token is supplied.
	ErrTokenMissing = &APIError{
		Code:       "token_missing",
		Message:    "Token is missing",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrTokenExpired is returned when the bearer token is past its expiry.
	ErrTokenExpired = &APIError{
		Code:       "token_expired",
		Message:    "Token has expired",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrTokenInvalid is returned when the bearer token does not verify.
	ErrTokenInvalid = &APIError{
		Code:       "token_invalid",
		Message:    "Token is invalid",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrNoTradingSession is returned when the token is valid but no live
	// trading connection is registered for the user.
	ErrNoTradingSession = &APIError{
		Code:       "no_trading_session",
		Message:    "No active trading session - login first",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrLocked is returned when the account has been deactivated.
	ErrLocked = &APIError{
		Code:       "account_locked",
		Message:    "Account is inactive",
		StatusCode: http.StatusLocked,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrExternal is returned when a call to the trading platform fails.
	ErrExternal = &APIError{
		Code:       "external_error",
		Message:    "Trading platform request failed",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrServiceUnavailable is returned when a dependent service is unavailable.
	ErrServiceUnavailable = &APIError{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// NewExternalError creates an external failure error carrying the upstream message.
func NewExternalError(message string) *APIError {
	return &APIError{
		Code:       "external_error",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// IsAPIError checks if an error is or wraps an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}
