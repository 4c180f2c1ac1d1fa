package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks input that collides with existing state (client id reuse, second root).
	ErrConflict = errors.New("conflict")
	// ErrNotFound is a generic sentinel for missing chats and nodes.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a remote call that may succeed if retried.
	ErrTransient = errors.New("transient failure")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
)

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.err }

func wrap(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return wrap(ErrValidation, format, args...) }
func Conflict(format string, args ...any) error   { return wrap(ErrConflict, format, args...) }
func NotFound(format string, args ...any) error   { return wrap(ErrNotFound, format, args...) }

// Transient wraps cause so both errors.Is(err, ErrTransient) and errors.Is(err, cause) hold.
func Transient(cause error, format string, args ...any) error {
	return &kindError{kind: ErrTransient, msg: fmt.Sprintf(format, args...), err: cause}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }
