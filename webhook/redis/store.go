package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Uses Redis Hashes for webhook and delivery records, Sets for the
 * event-type and failed-delivery indexes, and a Sorted Set scored by
 * nextRetryAt for the retry schedule. Removing a member from the schedule
 * set is the claim step: ZREM succeeds for exactly one caller, so
 * concurrent scheduler instances never double-claim a delivery.
 */

const (
	webhookPrefix   = "webhook"            // webhook:{webhook_id}
	webhookSetKey   = "webhooks"           // set of all webhook ids
	typePrefix      = "webhooks:type"      // webhooks:type:{event_type} -> set of webhook ids
	deliveryPrefix  = "delivery"           // delivery:{delivery_id}
	byWebhookPrefix = "deliveries:webhook" // deliveries:webhook:{webhook_id} -> list, newest first
	retryZSetKey    = "deliveries:retry"   // zset scored by next_retry_at (unix seconds)
	failedSetKey    = "deliveries:failed"  // set of exhausted/failed delivery ids
)

type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Store{
		client: client,
	}, nil
}

// Store adds a webhook record and its event-type index entries
func (s *Store) Store(ctx context.Context, wh webhook.Webhook) error {
	if err := s.client.HSet(ctx, webhookKey(wh.ID), webhookFields(wh)).Err(); err != nil {
		return fmt.Errorf("storing webhook: %w", err)
	}
	if err := s.client.SAdd(ctx, webhookSetKey, wh.ID).Err(); err != nil {
		return fmt.Errorf("indexing webhook: %w", err)
	}
	for _, t := range wh.EventTypes {
		if err := s.client.SAdd(ctx, typeKey(t), wh.ID).Err(); err != nil {
			return fmt.Errorf("indexing event type: %w", err)
		}
	}
	return nil
}

// Get retrieves a webhook by ID
func (s *Store) Get(ctx context.Context, id string) (webhook.Webhook, error) {
	data, err := s.client.HGetAll(ctx, webhookKey(id)).Result()
	if err != nil {
		return webhook.Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}
	if len(data) == 0 {
		return webhook.Webhook{}, webhook.ErrNotFound
	}
	return parseWebhook(data)
}

// List returns all registered webhooks
func (s *Store) List(ctx context.Context) ([]webhook.Webhook, error) {
	ids, err := s.client.SMembers(ctx, webhookSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing webhook ids: %w", err)
	}

	out := make([]webhook.Webhook, 0, len(ids))
	for _, id := range ids {
		wh, err := s.Get(ctx, id)
		if webhook.IsNotFound(err) {
			// Index entry outlived the record; skip
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, nil
}

// ActiveForEventType returns active webhooks subscribed to the event type
func (s *Store) ActiveForEventType(ctx context.Context, eventType string) ([]webhook.Webhook, error) {
	ids, err := s.client.SMembers(ctx, typeKey(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading event type index: %w", err)
	}

	var out []webhook.Webhook
	for _, id := range ids {
		wh, err := s.Get(ctx, id)
		if webhook.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if wh.Status == webhook.Active {
			out = append(out, wh)
		}
	}
	return out, nil
}

// Update replaces a webhook record and reconciles its event-type index
func (s *Store) Update(ctx context.Context, wh webhook.Webhook) error {
	current, err := s.Get(ctx, wh.ID)
	if err != nil {
		return err
	}

	for _, t := range current.EventTypes {
		if err := s.client.SRem(ctx, typeKey(t), wh.ID).Err(); err != nil {
			return fmt.Errorf("clearing event type index: %w", err)
		}
	}
	for _, t := range wh.EventTypes {
		if err := s.client.SAdd(ctx, typeKey(t), wh.ID).Err(); err != nil {
			return fmt.Errorf("indexing event type: %w", err)
		}
	}

	/* The rolling counters are owned by the atomic Mark* increments; an
	 * update from a possibly stale read must not rewrite them.
	 */
	fields := webhookFields(wh)
	delete(fields, "total_deliveries")
	delete(fields, "successful_deliveries")
	delete(fields, "failed_deliveries")
	delete(fields, "last_delivery_at")
	delete(fields, "last_success_at")

	if err := s.client.HSet(ctx, webhookKey(wh.ID), fields).Err(); err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	return nil
}

// Delete removes a webhook record and all its index entries
func (s *Store) Delete(ctx context.Context, id string) error {
	wh, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, t := range wh.EventTypes {
		if err := s.client.SRem(ctx, typeKey(t), id).Err(); err != nil {
			return fmt.Errorf("clearing event type index: %w", err)
		}
	}
	if err := s.client.SRem(ctx, webhookSetKey, id).Err(); err != nil {
		return fmt.Errorf("clearing webhook index: %w", err)
	}
	if err := s.client.Del(ctx, webhookKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return nil
}

// MarkDispatched atomically counts a delivery against the webhook's totals
func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return s.increment(ctx, id, "total_deliveries", "last_delivery_at", at)
}

// MarkSucceeded atomically counts a successful delivery
func (s *Store) MarkSucceeded(ctx context.Context, id string, at time.Time) error {
	return s.increment(ctx, id, "successful_deliveries", "last_success_at", at)
}

// MarkFailed atomically counts a terminally failed delivery
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.increment(ctx, id, "failed_deliveries", "", time.Time{})
}

func (s *Store) increment(ctx context.Context, id, counter, tsField string, at time.Time) error {
	exists, err := s.client.Exists(ctx, webhookKey(id)).Result()
	if err != nil {
		return fmt.Errorf("checking webhook: %w", err)
	}
	if exists == 0 {
		return webhook.ErrNotFound
	}

	if err := s.client.HIncrBy(ctx, webhookKey(id), counter, 1).Err(); err != nil {
		return fmt.Errorf("incrementing %s: %w", counter, err)
	}
	if tsField != "" {
		if err := s.client.HSet(ctx, webhookKey(id), tsField, at.Unix()).Err(); err != nil {
			return fmt.Errorf("updating %s: %w", tsField, err)
		}
	}
	return nil
}

// StoreDelivery adds a delivery record and its index entries
func (s *Store) StoreDelivery(ctx context.Context, d webhook.Delivery) error {
	if err := s.client.HSet(ctx, deliveryKey(d.ID), deliveryFields(d)).Err(); err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}
	if err := s.client.LPush(ctx, byWebhookKey(d.WebhookID), d.ID).Err(); err != nil {
		return fmt.Errorf("indexing delivery: %w", err)
	}
	return s.syncDeliveryIndexes(ctx, d)
}

// GetDelivery retrieves a delivery by ID
func (s *Store) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	data, err := s.client.HGetAll(ctx, deliveryKey(id)).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	return parseDelivery(data)
}

// UpdateDelivery replaces a delivery record and reconciles its indexes
func (s *Store) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	exists, err := s.client.Exists(ctx, deliveryKey(d.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking delivery: %w", err)
	}
	if exists == 0 {
		return webhook.ErrNotFound
	}

	if err := s.client.HSet(ctx, deliveryKey(d.ID), deliveryFields(d)).Err(); err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return s.syncDeliveryIndexes(ctx, d)
}

func (s *Store) syncDeliveryIndexes(ctx context.Context, d webhook.Delivery) error {
	if d.Status == webhook.DeliveryRetrying && d.NextRetryAt != nil {
		err := s.client.ZAdd(ctx, retryZSetKey, redis.Z{
			Score:  float64(d.NextRetryAt.Unix()),
			Member: d.ID,
		}).Err()
		if err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
	} else {
		if err := s.client.ZRem(ctx, retryZSetKey, d.ID).Err(); err != nil {
			return fmt.Errorf("clearing retry schedule: %w", err)
		}
	}

	if d.Status == webhook.DeliveryFailed || d.Status == webhook.DeliveryExhausted {
		if err := s.client.SAdd(ctx, failedSetKey, d.ID).Err(); err != nil {
			return fmt.Errorf("indexing failed delivery: %w", err)
		}
	} else {
		if err := s.client.SRem(ctx, failedSetKey, d.ID).Err(); err != nil {
			return fmt.Errorf("clearing failed index: %w", err)
		}
	}
	return nil
}

// ListDeliveries returns a webhook's deliveries, most recent first
func (s *Store) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, byWebhookKey(webhookID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery ids: %w", err)
	}

	out := make([]webhook.Delivery, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDelivery(ctx, id)
		if webhook.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListFailedDeliveries returns all exhausted and failed deliveries
func (s *Store) ListFailedDeliveries(ctx context.Context) ([]webhook.Delivery, error) {
	ids, err := s.client.SMembers(ctx, failedSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading failed index: %w", err)
	}

	out := make([]webhook.Delivery, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDelivery(ctx, id)
		if webhook.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// CountDeliveries returns per-status counts for one webhook
func (s *Store) CountDeliveries(ctx context.Context, webhookID string) (map[webhook.DeliveryStatus]int64, error) {
	ids, err := s.client.LRange(ctx, byWebhookKey(webhookID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery ids: %w", err)
	}

	counts := make(map[webhook.DeliveryStatus]int64)
	for _, id := range ids {
		raw, err := s.client.HGet(ctx, deliveryKey(id), "status").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading delivery status: %w", err)
		}
		counts[webhook.NewDeliveryStatus(raw)]++
	}
	return counts, nil
}

/* ClaimDue pops due members off the retry schedule. ZRem returning 1 is
 * the claim: exactly one concurrent caller wins each member.
 */
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	count := int64(limit)
	if count <= 0 {
		count = -1
	}
	ids, err := s.client.ZRangeByScore(ctx, retryZSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading retry schedule: %w", err)
	}

	var claimed []webhook.Delivery
	for _, id := range ids {
		n, err := s.client.ZRem(ctx, retryZSetKey, id).Result()
		if err != nil {
			return nil, fmt.Errorf("claiming retry: %w", err)
		}
		if n == 0 {
			// Another instance won this one
			continue
		}

		d, err := s.GetDelivery(ctx, id)
		if webhook.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Status != webhook.DeliveryRetrying {
			continue
		}
		claimed = append(claimed, d)
	}
	return claimed, nil
}

// Close closes the Redis connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (s *Store) GetClient() *redis.Client {
	return s.client
}

// Helper functions

func webhookKey(id string) string {
	return fmt.Sprintf("%s:%s", webhookPrefix, id)
}

func typeKey(eventType string) string {
	return fmt.Sprintf("%s:%s", typePrefix, eventType)
}

func deliveryKey(id string) string {
	return fmt.Sprintf("%s:%s", deliveryPrefix, id)
}

func byWebhookKey(webhookID string) string {
	return fmt.Sprintf("%s:%s", byWebhookPrefix, webhookID)
}

func webhookFields(wh webhook.Webhook) map[string]interface{} {
	types, _ := json.Marshal(wh.EventTypes)
	fields := map[string]interface{}{
		"id":                    wh.ID,
		"name":                  wh.Name,
		"url":                   wh.URL,
		"secret":                wh.Secret,
		"status":                wh.Status.String(),
		"event_types":           string(types),
		"max_retries":           wh.MaxRetries,
		"timeout_seconds":       wh.TimeoutSeconds,
		"total_deliveries":      wh.TotalDeliveries,
		"successful_deliveries": wh.SuccessfulDeliveries,
		"failed_deliveries":     wh.FailedDeliveries,
		"created_by":            wh.CreatedBy,
		"created_at":            wh.CreatedAt.Unix(),
		"updated_at":            wh.UpdatedAt.Unix(),
		"last_delivery_at":      int64(0),
		"last_success_at":       int64(0),
	}
	if wh.LastDeliveryAt != nil {
		fields["last_delivery_at"] = wh.LastDeliveryAt.Unix()
	}
	if wh.LastSuccessAt != nil {
		fields["last_success_at"] = wh.LastSuccessAt.Unix()
	}
	return fields
}

func parseWebhook(data map[string]string) (webhook.Webhook, error) {
	var types []string
	if raw, ok := data["event_types"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &types); err != nil {
			return webhook.Webhook{}, fmt.Errorf("unmarshaling event types: %w", err)
		}
	}

	wh := webhook.Webhook{
		ID:                   data["id"],
		Name:                 data["name"],
		URL:                  data["url"],
		Secret:               data["secret"],
		Status:               webhook.NewStatus(data["status"]),
		EventTypes:           types,
		MaxRetries:           int(parseInt64(data["max_retries"])),
		TimeoutSeconds:       int(parseInt64(data["timeout_seconds"])),
		TotalDeliveries:      parseInt64(data["total_deliveries"]),
		SuccessfulDeliveries: parseInt64(data["successful_deliveries"]),
		FailedDeliveries:     parseInt64(data["failed_deliveries"]),
		CreatedBy:            data["created_by"],
		CreatedAt:            time.Unix(parseInt64(data["created_at"]), 0).UTC(),
		UpdatedAt:            time.Unix(parseInt64(data["updated_at"]), 0).UTC(),
	}
	wh.LastDeliveryAt = parseNullableUnix(data["last_delivery_at"])
	wh.LastSuccessAt = parseNullableUnix(data["last_success_at"])
	return wh, nil
}

func deliveryFields(d webhook.Delivery) map[string]interface{} {
	fields := map[string]interface{}{
		"id":              d.ID,
		"webhook_id":      d.WebhookID,
		"event_id":        d.EventID,
		"event_type":      d.EventType,
		"payload":         string(d.Payload),
		"status":          d.Status.String(),
		"attempt_count":   d.AttemptCount,
		"max_attempts":    d.MaxAttempts,
		"response_status": d.ResponseStatus,
		"response_body":   d.ResponseBody,
		"error_message":   d.ErrorMessage,
		"created_at":      d.CreatedAt.Unix(),
		"delivered_at":    int64(0),
		"next_retry_at":   int64(0),
	}
	if d.DeliveredAt != nil {
		fields["delivered_at"] = d.DeliveredAt.Unix()
	}
	if d.NextRetryAt != nil {
		fields["next_retry_at"] = d.NextRetryAt.Unix()
	}
	return fields
}

func parseDelivery(data map[string]string) (webhook.Delivery, error) {
	d := webhook.Delivery{
		ID:             data["id"],
		WebhookID:      data["webhook_id"],
		EventID:        data["event_id"],
		EventType:      data["event_type"],
		Payload:        []byte(data["payload"]),
		Status:         webhook.NewDeliveryStatus(data["status"]),
		AttemptCount:   int(parseInt64(data["attempt_count"])),
		MaxAttempts:    int(parseInt64(data["max_attempts"])),
		ResponseStatus: int(parseInt64(data["response_status"])),
		ResponseBody:   data["response_body"],
		ErrorMessage:   data["error_message"],
		CreatedAt:      time.Unix(parseInt64(data["created_at"]), 0).UTC(),
	}
	d.DeliveredAt = parseNullableUnix(data["delivered_at"])
	d.NextRetryAt = parseNullableUnix(data["next_retry_at"])
	return d, nil
}

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}

func parseNullableUnix(s string) *time.Time {
	sec := parseInt64(s)
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
