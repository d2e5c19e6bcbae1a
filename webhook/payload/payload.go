package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// eventTypePattern validates event types: delimited segments of [a-zA-Z0-9_]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

/* Envelope is the wire format POSTed to a receiver.
 * ID is the delivery id, stable across retries, usable as an idempotency
 * key. Metadata.Attempt changes per request and is never baked into the
 * stored delivery record.
 */
type Envelope struct {
	// ID is the delivery identifier.
	ID string `json:"id"`

	// EventID identifies the originating domain event.
	EventID string `json:"eventId"`

	// EventType is the event-type tag, e.g. "USER_REGISTERED".
	EventType string `json:"eventType"`

	// Timestamp is when this request's envelope was built.
	Timestamp time.Time `json:"timestamp"`

	// Data is the domain event payload, passed through untouched.
	Data json.RawMessage `json:"data"`

	Metadata Metadata `json:"metadata"`
}

// Metadata carries per-request delivery bookkeeping for the receiver.
type Metadata struct {
	WebhookID   string `json:"webhookId"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
}

// Build assembles and validates an envelope for one delivery attempt.
func Build(deliveryID, eventID, eventType string, ts time.Time, data json.RawMessage, meta Metadata) (Envelope, error) {
	e := Envelope{
		ID:        deliveryID,
		EventID:   eventID,
		EventType: eventType,
		Timestamp: ts,
		Data:      data,
		Metadata:  meta,
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}
	return e, nil
}

// Validate checks the envelope structure
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if err := ValidateEventType(e.EventType); err != nil {
		return err
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// Bytes returns the JSON-encoded envelope as bytes
// The returned bytes are minified (no extra whitespace)
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// Parse parses a JSON body into an Envelope
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return e, nil
}

// ValidateEventType validates an event type tag
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
