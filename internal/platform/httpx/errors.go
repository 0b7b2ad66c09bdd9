// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"errors"

	"github.com/keystone-id/keystone/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidationFailed):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInactive):
		Problem(w, http.StatusUnprocessableEntity, "Inactive Entity", err.Error())
	case errors.Is(err, shared.ErrSystemEntity):
		Problem(w, http.StatusForbidden, "System Entity", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
	case errors.Is(err, shared.ErrInvalidToken), errors.Is(err, shared.ErrExpired):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
