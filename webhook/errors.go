package webhook

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a webhook or delivery id is unknown.
var ErrNotFound = errors.New("not found")

/* ValidationError reports a bad webhook configuration.
 * Surfaced synchronously to the administrative caller, never retried.
 */
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
