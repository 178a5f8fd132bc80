package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers wrap these with
// context and match with errors.Is; the API adapter maps them onto
// transport codes.
var (
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrTransient     = errors.New("transient runtime failure")
	ErrUnrecoverable = errors.New("unrecoverable runtime failure")
)

// Validationf wraps ErrValidation with the rule that was violated.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with what the caller was denied.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with the entity kind and id.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Transientf wraps ErrTransient.
func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Unrecoverablef wraps ErrUnrecoverable.
func Unrecoverablef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnrecoverable, fmt.Sprintf(format, args...))
}
