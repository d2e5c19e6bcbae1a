package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
)

/* In-memory implementation of webhook.Repository
 * Single-process store used by tests and by deployments that can afford to
 * lose delivery history on restart. All mutation is under one mutex, which
 * makes the counter increments and the retry-claim step atomic.
 */

type Store struct {
	mu         sync.Mutex
	webhooks   map[string]webhook.Webhook
	deliveries map[string]webhook.Delivery
	// byWebhook keeps delivery ids in insertion order per webhook
	byWebhook map[string][]string
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		webhooks:   make(map[string]webhook.Webhook),
		deliveries: make(map[string]webhook.Delivery),
		byWebhook:  make(map[string][]string),
	}
}

// Store adds a webhook record
func (s *Store) Store(ctx context.Context, wh webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[wh.ID] = cloneWebhook(wh)
	return nil
}

// Get retrieves a webhook by ID
func (s *Store) Get(ctx context.Context, id string) (webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return webhook.Webhook{}, webhook.ErrNotFound
	}
	return cloneWebhook(wh), nil
}

// List returns all webhooks
func (s *Store) List(ctx context.Context) ([]webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webhook.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		out = append(out, cloneWebhook(wh))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ActiveForEventType returns active webhooks subscribed to the event type
func (s *Store) ActiveForEventType(ctx context.Context, eventType string) ([]webhook.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Webhook
	for _, wh := range s.webhooks {
		if wh.Status == webhook.Active && wh.SubscribedTo(eventType) {
			out = append(out, cloneWebhook(wh))
		}
	}
	return out, nil
}

// Update replaces a webhook record, preserving its rolling counters
func (s *Store) Update(ctx context.Context, wh webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.webhooks[wh.ID]
	if !ok {
		return webhook.ErrNotFound
	}
	/* Counters are owned by the Mark* increments; a stale read in the
	 * caller's record must not clobber them.
	 */
	wh.TotalDeliveries = current.TotalDeliveries
	wh.SuccessfulDeliveries = current.SuccessfulDeliveries
	wh.FailedDeliveries = current.FailedDeliveries
	wh.LastDeliveryAt = current.LastDeliveryAt
	wh.LastSuccessAt = current.LastSuccessAt
	s.webhooks[wh.ID] = cloneWebhook(wh)
	return nil
}

// Delete removes a webhook record
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[id]; !ok {
		return webhook.ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

// MarkDispatched counts a delivery against the webhook's totals
func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return webhook.ErrNotFound
	}
	wh.TotalDeliveries++
	t := at
	wh.LastDeliveryAt = &t
	s.webhooks[id] = wh
	return nil
}

// MarkSucceeded counts a successful delivery
func (s *Store) MarkSucceeded(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return webhook.ErrNotFound
	}
	wh.SuccessfulDeliveries++
	t := at
	wh.LastSuccessAt = &t
	s.webhooks[id] = wh
	return nil
}

// MarkFailed counts a terminally failed delivery
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return webhook.ErrNotFound
	}
	wh.FailedDeliveries++
	s.webhooks[id] = wh
	return nil
}

// StoreDelivery adds a delivery record
func (s *Store) StoreDelivery(ctx context.Context, d webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = cloneDelivery(d)
	s.byWebhook[d.WebhookID] = append(s.byWebhook[d.WebhookID], d.ID)
	return nil
}

// GetDelivery retrieves a delivery by ID
func (s *Store) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	return cloneDelivery(d), nil
}

// UpdateDelivery replaces a delivery record
func (s *Store) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return webhook.ErrNotFound
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

// ListDeliveries returns a webhook's deliveries, most recent first
func (s *Store) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byWebhook[webhookID]
	out := make([]webhook.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d, ok := s.deliveries[ids[i]]; ok {
			out = append(out, cloneDelivery(d))
		}
	}
	return out, nil
}

// ListFailedDeliveries returns all exhausted and failed deliveries
func (s *Store) ListFailedDeliveries(ctx context.Context) ([]webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range s.deliveries {
		if d.Status == webhook.DeliveryFailed || d.Status == webhook.DeliveryExhausted {
			out = append(out, cloneDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountDeliveries returns per-status counts for one webhook
func (s *Store) CountDeliveries(ctx context.Context, webhookID string) (map[webhook.DeliveryStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[webhook.DeliveryStatus]int64)
	for _, id := range s.byWebhook[webhookID] {
		if d, ok := s.deliveries[id]; ok {
			counts[d.Status]++
		}
	}
	return counts, nil
}

/* ClaimDue claims due retries by clearing their schedule slot under the
 * store mutex. A delivery claimed here is invisible to the next sweep until
 * the executor writes a new outcome.
 */
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []webhook.Delivery
	for _, d := range s.deliveries {
		if d.Due(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]webhook.Delivery, 0, len(due))
	for _, d := range due {
		d.NextRetryAt = nil
		s.deliveries[d.ID] = d
		out = append(out, cloneDelivery(d))
	}
	return out, nil
}

// Close releases nothing; present to satisfy webhook.Repository
func (s *Store) Close(ctx context.Context) error {
	return nil
}

func cloneWebhook(wh webhook.Webhook) webhook.Webhook {
	out := wh
	out.EventTypes = append([]string(nil), wh.EventTypes...)
	if wh.LastDeliveryAt != nil {
		t := *wh.LastDeliveryAt
		out.LastDeliveryAt = &t
	}
	if wh.LastSuccessAt != nil {
		t := *wh.LastSuccessAt
		out.LastSuccessAt = &t
	}
	return out
}

func cloneDelivery(d webhook.Delivery) webhook.Delivery {
	out := d
	out.Payload = append([]byte(nil), d.Payload...)
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		out.DeliveredAt = &t
	}
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}
