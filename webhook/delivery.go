package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxResponseBodyBytes caps how much of the receiver's response is retained.
const MaxResponseBodyBytes = 1024

/* DeliveryStatus represents the state of one delivery attempt-sequence
 * Follows the lifecycle: Pending -> Success/Failed/Retrying,
 * Retrying -> Success/Retrying/Exhausted
 */
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota + 1
	DeliveryRetrying
	DeliverySuccess
	DeliveryFailed
	DeliveryExhausted
)

// String returns the string representation of the delivery status
func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryRetrying:
		return "retrying"
	case DeliverySuccess:
		return "success"
	case DeliveryFailed:
		return "failed"
	case DeliveryExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// NewDeliveryStatus creates a DeliveryStatus from a string
func NewDeliveryStatus(str string) DeliveryStatus {
	switch str {
	case "pending":
		return DeliveryPending
	case "retrying":
		return DeliveryRetrying
	case "success":
		return DeliverySuccess
	case "failed":
		return DeliveryFailed
	case "exhausted":
		return DeliveryExhausted
	default:
		return DeliveryPending
	}
}

// Validate checks if the delivery status is valid
func (s DeliveryStatus) Validate() error {
	if s < DeliveryPending || s > DeliveryExhausted {
		return fmt.Errorf("invalid delivery status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s DeliveryStatus) IsFinal() bool {
	return s == DeliverySuccess || s == DeliveryFailed || s == DeliveryExhausted
}

/* Delivery represents one tracked transmission of one event to one webhook.
 * The ID doubles as the idempotency key a receiver can deduplicate on,
 * stable across all retries of the same delivery.
 */
type Delivery struct {
	ID        string
	WebhookID string

	/* Event data is a value copy frozen at dispatch time. Later changes to
	 * the originating domain event never reach an already-created delivery.
	 */
	EventID   string
	EventType string
	Payload   json.RawMessage

	Status       DeliveryStatus
	AttemptCount int
	MaxAttempts  int

	ResponseStatus int // last HTTP status observed, 0 if none
	ResponseBody   string
	ErrorMessage   string

	CreatedAt   time.Time
	DeliveredAt *time.Time // set iff Status == DeliverySuccess
	NextRetryAt *time.Time // set only while Status == DeliveryRetrying
}

// AttemptsLeft reports whether the delivery still has attempt budget.
func (d Delivery) AttemptsLeft() bool {
	return d.AttemptCount < d.MaxAttempts
}

// Due reports whether a retrying delivery is ready to be attempted at now.
func (d Delivery) Due(now time.Time) bool {
	if d.Status != DeliveryRetrying || d.NextRetryAt == nil {
		return false
	}
	return !d.NextRetryAt.After(now)
}
