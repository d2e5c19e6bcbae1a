package webhook

import "time"

const (
	// MaxURLLength is the longest destination URL a webhook may register.
	MaxURLLength = 2048

	// MaxEventTypes is the maximum number of event-type subscriptions per webhook.
	MaxEventTypes = 10

	// DefaultMaxRetries is the number of retries after the initial attempt.
	DefaultMaxRetries = 3

	// DefaultTimeoutSeconds bounds a single delivery attempt.
	DefaultTimeoutSeconds = 30
)

/* Webhook represents an externally registered endpoint subscribed to
 * one or more domain event types.
 * Uses value semantics as it represents data, not behavior
 */
type Webhook struct {
	ID             string
	Name           string
	URL            string
	Secret         string
	Status         Status
	EventTypes     []string
	MaxRetries     int
	TimeoutSeconds int

	/* Rolling counters, maintained with atomic store increments.
	 * Pending and retrying deliveries are counted in TotalDeliveries only,
	 * so Successful + Failed <= Total at all times.
	 */
	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64
	LastDeliveryAt       *time.Time
	LastSuccessAt        *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscribedTo reports whether the webhook is subscribed to the event type.
func (w Webhook) SubscribedTo(eventType string) bool {
	for _, t := range w.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// MaxAttempts is the total attempt budget: one initial attempt plus retries.
func (w Webhook) MaxAttempts() int {
	return w.MaxRetries + 1
}

// Timeout returns the per-attempt timeout as a duration.
func (w Webhook) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}
