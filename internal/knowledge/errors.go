package knowledge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced pattern or relationship does
	// not exist in the store.
	ErrNotFound = errors.New("knowledge: not found")

	// ErrDuplicate is returned when an identical relationship edge already
	// exists. Callers decide whether to treat it as idempotent success.
	ErrDuplicate = errors.New("knowledge: relationship already exists")
)

// ValidationError reports malformed input: a confidence outside [0,1], a
// self-relationship, an unknown enum value. It is always surfaced
// synchronously and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("knowledge: validation failed on %s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
