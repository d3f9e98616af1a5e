// Package errors provides standardized API error types.
package errors

import (
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
	}
}

// Standard error definitions
var (
	// ErrBusy is returned when the session is mid-transition and cannot
	// accept another state-changing request.
	ErrBusy = &APIError{
		Code:       "busy",
		Message:    "Busy",
		StatusCode: http.StatusConflict,
	}

	// ErrDatabaseExists is returned when the session already holds a database.
	ErrDatabaseExists = &APIError{
		Code:       "database_exists",
		Message:    "Database already created for this session.",
		StatusCode: http.StatusConflict,
	}

	// ErrNoDatabase is returned when an operation needs a database the
	// session has not created yet.
	ErrNoDatabase = &APIError{
		Code:       "no_database",
		Message:    "Database not created for this session.",
		StatusCode: http.StatusConflict,
	}

	// ErrLoadgenRunning is returned when the session's load generator has
	// already been started.
	ErrLoadgenRunning = &APIError{
		Code:       "loadgen_running",
		Message:    "Loadgen already running",
		StatusCode: http.StatusConflict,
	}

	// ErrCapacity is returned when the cluster-wide database limit is reached.
	ErrCapacity = &APIError{
		Code:       "capacity",
		Message:    "Maximum number of databases reached, please try again later.",
		StatusCode: http.StatusConflict,
	}

	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal
}
