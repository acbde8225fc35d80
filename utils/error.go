package utils

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/mrv_backend/models"
)

var (
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrorImageNotFound = errors.New("image not found")
)

// HTTPStatus maps domain errors onto response codes.
func HTTPStatus(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrOwnership):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound), errors.Is(err, ErrorImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoEvidence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrAlreadyMember),
		errors.Is(err, models.ErrInvalidInput), errors.As(err, &verrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
