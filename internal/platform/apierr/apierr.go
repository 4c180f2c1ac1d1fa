package apierr

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// From classifies err by the error taxonomy. fallbackCode is used for unclassified errors,
// which are reported as 500.
func From(err error, fallbackCode string) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case apperrors.IsValidation(err):
		return New(http.StatusBadRequest, "validation_failed", err)
	case apperrors.IsConflict(err):
		return New(http.StatusConflict, "conflict", err)
	case apperrors.IsNotFound(err):
		return New(http.StatusNotFound, "not_found", err)
	case apperrors.IsTransient(err):
		return New(http.StatusServiceUnavailable, "transient", err)
	case errors.Is(err, apperrors.ErrUnauthorized):
		return New(http.StatusUnauthorized, "unauthorized", err)
	default:
		return New(http.StatusInternalServerError, fallbackCode, err)
	}
}
