package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store and adapter lookups when no task
// exists for the given id.
var ErrNotFound = errors.New("task not found")

// ValidationError reports a field-level constraint violation. It is
// raised synchronously from adapter Create/Update calls, never retried,
// and surfaced to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
