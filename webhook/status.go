package webhook

import "fmt"

/* Status represents whether a webhook receives events
 * Only active webhooks are matched at dispatch time
 */
type Status int

const (
	Active Status = iota + 1
	Inactive
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "active":
		return Active
	case "inactive":
		return Inactive
	default:
		return Inactive
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s != Active && s != Inactive {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}
