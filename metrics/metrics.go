package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery engine.
type Metrics struct {
	// WebhookCounts maps registration status name to webhook count
	WebhookCounts map[string]int64 `json:"webhook_counts"`

	// DeliveryCounts maps delivery status name to delivery count
	DeliveryCounts map[string]int64 `json:"delivery_counts"`

	// SuccessRates maps webhook ID to its delivery success rate
	SuccessRates map[string]float64 `json:"success_rates"`

	// RetryBacklog is the number of deliveries waiting on a scheduled retry
	RetryBacklog int64 `json:"retry_backlog"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the delivery engine.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetWebhookCounts returns the count of webhooks by registration status
	GetWebhookCounts(ctx context.Context) (map[string]int64, error)

	// GetDeliveryCounts returns the count of deliveries by status
	GetDeliveryCounts(ctx context.Context) (map[string]int64, error)

	// GetSuccessRates returns the delivery success rate per webhook
	GetSuccessRates(ctx context.Context) (map[string]float64, error)

	// GetRetryBacklog returns the number of deliveries awaiting a retry
	GetRetryBacklog(ctx context.Context) (int64, error)
}
