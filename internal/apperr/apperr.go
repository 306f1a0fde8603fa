// Package apperr holds the caller-facing error kinds shared by the services
// and the HTTP layer.
package apperr

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no structure or attempt matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrPermission is returned when the caller may not perform the action.
	ErrPermission = errors.New("permission denied")
	// ErrConflict is returned when the request clashes with stored state.
	ErrConflict = errors.New("conflict")
	// ErrPersistence wraps storage failures that rolled back a write.
	ErrPersistence = errors.New("persistence failure")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(msg string, flds ...FieldError) error {
	return &ValidationError{Err: errors.New(msg), Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Err.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
