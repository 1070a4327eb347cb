package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is the sentinel for lookups of entities that do not exist.
// Wrap it with context, e.g. errors.Wrapf(ErrNotFound, "source %q", id).
var ErrNotFound = errors.New("not found")

// IsNotFound returns true if err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidationError marks input that can never succeed no matter how often it
// is retried, such as a malformed work message or an invalid identifier.
type ValidationError struct {
	Reason string
}

// Error implements error.
func (v ValidationError) Error() string {
	return v.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation returns true if err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
