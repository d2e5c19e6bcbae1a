package dispatch

import (
	"encoding/json"
	"time"
)

/* Event is the contract a business service publishes. The engine never
 * inspects Data beyond passing it through to receivers.
 */
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}
