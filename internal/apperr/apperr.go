// Package apperr defines the error kinds shared by the simulator core.
//
// Every error returned by a core operation is local and recoverable. Callers
// branch on the kind with errors.Is against the Kind sentinels and read the
// offending field or missing artifact from *Error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	// Validation is non-positive or malformed input.
	Validation Kind = "validation"
	// InsufficientData means an artifact cannot be computed from what exists.
	InsufficientData Kind = "insufficient_data"
	// StageNotReady means a stage transition lacks its prerequisite artifact.
	StageNotReady Kind = "stage_not_ready"
	// StageViolation means a command is not accepted in the current stage.
	StageViolation Kind = "stage_violation"
	// StateConflict means the command conflicts with the current state.
	StateConflict Kind = "state_conflict"
	// NotReady means the simulation cannot start yet.
	NotReady Kind = "not_ready"
	// NotFound means the addressed resource does not exist.
	NotFound Kind = "not_found"
)

// Error implements the error interface so a bare Kind can be used as a
// sentinel with errors.Is.
func (k Kind) Error() string {
	return string(k)
}

// Error is a classified error naming the offending field or artifact.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, field string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldOf returns the field of the first *Error in err's chain.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// HTTPStatus maps an error to the status code the control surface returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InsufficientData:
		return http.StatusUnprocessableEntity
	case StageNotReady, StageViolation, StateConflict, NotReady:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
