package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
)

/* StoreCollector derives metrics from the webhook repository. Reads are
 * performed on demand by the exporter callbacks, so scrapes always see
 * the stored state rather than a cached snapshot.
 */
type StoreCollector struct {
	repo webhook.Repository
}

// NewStoreCollector creates a collector backed by the given repository
func NewStoreCollector(repo webhook.Repository) *StoreCollector {
	return &StoreCollector{
		repo: repo,
	}
}

// Collect gathers all metrics in a single pass over the repository
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	whs, err := c.repo.List(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("listing webhooks: %w", err)
	}

	m := Metrics{
		WebhookCounts:  make(map[string]int64),
		DeliveryCounts: make(map[string]int64),
		SuccessRates:   make(map[string]float64),
		Timestamp:      time.Now().UTC(),
	}

	for _, wh := range whs {
		m.WebhookCounts[wh.Status.String()]++

		counts, err := c.repo.CountDeliveries(ctx, wh.ID)
		if err != nil {
			return Metrics{}, fmt.Errorf("counting deliveries: %w", err)
		}

		var total, successful int64
		for status, n := range counts {
			m.DeliveryCounts[status.String()] += n
			total += n
			if status == webhook.DeliverySuccess {
				successful = n
			}
			if status == webhook.DeliveryRetrying {
				m.RetryBacklog += n
			}
		}
		if total > 0 {
			m.SuccessRates[wh.ID] = float64(successful) / float64(total)
		}
	}

	return m, nil
}

// GetWebhookCounts returns the count of webhooks by registration status
func (c *StoreCollector) GetWebhookCounts(ctx context.Context) (map[string]int64, error) {
	m, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return m.WebhookCounts, nil
}

// GetDeliveryCounts returns the count of deliveries by status
func (c *StoreCollector) GetDeliveryCounts(ctx context.Context) (map[string]int64, error) {
	m, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return m.DeliveryCounts, nil
}

// GetSuccessRates returns the delivery success rate per webhook
func (c *StoreCollector) GetSuccessRates(ctx context.Context) (map[string]float64, error) {
	m, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return m.SuccessRates, nil
}

// GetRetryBacklog returns the number of deliveries awaiting a retry
func (c *StoreCollector) GetRetryBacklog(ctx context.Context) (int64, error) {
	m, err := c.Collect(ctx)
	if err != nil {
		return 0, err
	}
	return m.RetryBacklog, nil
}
