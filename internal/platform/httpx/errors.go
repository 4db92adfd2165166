package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors shared by the domain layers.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicate         = errors.New("duplicate entry")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflicting state")
)

// RespondError maps domain errors onto the canonical failure envelope.
// State-conflict rejections (illegal transition, insufficient stock,
// duplicate code) are client errors and report 400.
func RespondError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		FieldProblem(w, http.StatusUnprocessableEntity, ValidationFields(err))
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusBadRequest, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		Problem(w, http.StatusBadRequest, "Invalid Transition", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		Problem(w, http.StatusBadRequest, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusBadRequest, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
