// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/mronstro/rondb-tools/internal/pkg/errors"
)

// ErrorBody is the wire shape of every error response. The detail text is
// shown verbatim in the browser UI.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// JSON writes a JSON response with the given status code. Success bodies
// are written bare, without an envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't do much else at this point
		http.Error(w, `{"detail":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes an error response as {"detail": message}.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	JSON(w, apiErr.StatusCode, ErrorBody{Detail: apiErr.Message})
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apierrors.ErrBadRequest.WithMessage(message))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter) {
	Error(w, apierrors.ErrInternal)
}
