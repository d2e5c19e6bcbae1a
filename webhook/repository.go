package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Reader provides read operations for webhooks
type Reader interface {
	/* Context is always the first parameter in functions that do I/O
	 * This allows for cancellation, timeouts, and shared values
	 */
	Get(ctx context.Context, id string) (Webhook, error)
	List(ctx context.Context) ([]Webhook, error)
	/* ActiveForEventType returns webhooks with Status == Active that are
	 * subscribed to the event type. Order is unspecified; dispatch is
	 * independent per webhook.
	 */
	ActiveForEventType(ctx context.Context, eventType string) ([]Webhook, error)
}

// Writer provides write operations for webhooks
type Writer interface {
	Store(ctx context.Context, wh Webhook) error
	Update(ctx context.Context, wh Webhook) error
	Delete(ctx context.Context, id string) error
}

/* CounterWriter provides atomic increments for the rolling delivery
 * counters. Two deliveries for the same webhook can complete at the same
 * time, so these must not be read-modify-write on the whole record.
 */
type CounterWriter interface {
	// MarkDispatched counts a delivery once, on its first attempt only.
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkSucceeded(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
}

// DeliveryReader provides read operations for delivery records
type DeliveryReader interface {
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	/* ListDeliveries returns the webhook's deliveries, most recent first,
	 * up to limit records.
	 */
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error)
	// ListFailedDeliveries returns all EXHAUSTED and FAILED deliveries.
	ListFailedDeliveries(ctx context.Context) ([]Delivery, error)
	// CountDeliveries returns per-status delivery counts for one webhook.
	CountDeliveries(ctx context.Context, webhookID string) (map[DeliveryStatus]int64, error)
}

// DeliveryWriter provides write operations for delivery records
type DeliveryWriter interface {
	StoreDelivery(ctx context.Context, d Delivery) error
	UpdateDelivery(ctx context.Context, d Delivery) error
	/* ClaimDue atomically claims deliveries with status retrying whose
	 * NextRetryAt has elapsed, removing them from the retry schedule so
	 * that no concurrent scheduler instance claims the same delivery.
	 * Returns up to limit claimed deliveries.
	 */
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	CounterWriter
	DeliveryReader
	DeliveryWriter
	Close(ctx context.Context) error
}
