package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptStore marks a data file that exists but cannot be parsed.
	// Saves never proceed past a corrupt load; the backup sibling is kept.
	ErrCorruptStore = errors.New("corrupt store document")

	// ErrNotFound marks a lookup whose entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports the first offending path of a document that
// failed save-time validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s: %s", e.Field, e.Message)
}
