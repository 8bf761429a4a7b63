package record

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record id has no backing detail file.
// A stale index entry referencing the id does not count as existence.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a malformed input payload. It is surfaced to the
// calling operation as a structured failure, never as a crash.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
