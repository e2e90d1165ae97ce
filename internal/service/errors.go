package service

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when send or retry is attempted from a status
// that does not allow it. The message is left untouched.
var ErrInvalidState = errors.New("invalid message state")

var ErrValidation = errors.New("validation failed")

// ValidationError describes a message that is not well formed for its
// platform and type. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
