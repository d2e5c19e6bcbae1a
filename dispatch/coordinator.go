package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/payload"
	"github.com/google/uuid"
)

// DefaultWorkers is the size of the delivery worker pool.
const DefaultWorkers = 8

// defaultQueueSize bounds the in-process hand-off queue. Deliveries are
// persisted before they are queued, so a full queue only delays work.
const defaultQueueSize = 256

/* Coordinator subscribes business services to webhook fan-out. It resolves
 * matching active webhooks for a published event, creates one pending
 * delivery per match, and hands each to the executor on a worker pool so
 * the publisher never blocks on delivery.
 */
type Coordinator struct {
	Store    webhook.Repository
	Executor *Executor
	Logger   *slog.Logger

	tasks chan webhook.Delivery
	wg    sync.WaitGroup
}

// NewCoordinator creates a coordinator; call Start before publishing.
func NewCoordinator(store webhook.Repository, executor *Executor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Store:    store,
		Executor: executor,
		Logger:   logger,
		tasks:    make(chan webhook.Delivery, defaultQueueSize),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

// Wait blocks until all workers have drained after cancellation.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.tasks:
			c.run(ctx, d)
		}
	}
}

/* run executes one attempt, isolating panics and errors to this delivery
 * so one broken receiver never takes down the pool.
 */
func (c *Coordinator) run(ctx context.Context, d webhook.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			c.Logger.Error("delivery attempt panic", "delivery_id", d.ID, "panic", rec)
		}
	}()

	if _, err := c.Executor.Execute(ctx, d); err != nil {
		c.Logger.Error("delivery attempt error", "delivery_id", d.ID, "error", err)
	}
}

// Submit hands a delivery to the worker pool without blocking the caller.
func (c *Coordinator) Submit(d webhook.Delivery) {
	select {
	case c.tasks <- d:
	default:
		// Queue full; keep the hand-off asynchronous anyway
		go func() { c.tasks <- d }()
	}
}

/* DeliverEvent resolves the event's subscribers and dispatches one
 * delivery per active webhook. No matching webhook is a no-op, not an
 * error. Returns how many deliveries were created.
 */
func (c *Coordinator) DeliverEvent(ctx context.Context, ev Event) (int, error) {
	if err := payload.ValidateEventType(ev.Type); err != nil {
		return 0, webhook.ValidationError{Field: "type", Reason: err.Error()}
	}
	if len(ev.Data) == 0 || !json.Valid(ev.Data) {
		return 0, webhook.ValidationError{Field: "data", Reason: "must be a JSON document"}
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	matches, err := c.Store.ActiveForEventType(ctx, ev.Type)
	if err != nil {
		return 0, fmt.Errorf("matching webhooks: %w", err)
	}

	dispatched := 0
	for _, wh := range matches {
		d := webhook.Delivery{
			ID:        uuid.New().String(),
			WebhookID: wh.ID,
			EventID:   ev.ID,
			EventType: ev.Type,
			// Value copy frozen now; later event edits never reach it
			Payload:     append(json.RawMessage(nil), ev.Data...),
			Status:      webhook.DeliveryPending,
			MaxAttempts: wh.MaxAttempts(),
			CreatedAt:   c.Executor.Clock.Now(),
		}

		if err := c.Store.StoreDelivery(ctx, d); err != nil {
			// One webhook's storage failure must not fail the others
			c.Logger.Error("storing delivery", "webhook_id", wh.ID, "event_id", ev.ID, "error", err)
			continue
		}

		c.Submit(d)
		dispatched++
	}

	return dispatched, nil
}

// TestResult reports the outcome of a synthetic test delivery.
type TestResult struct {
	Success        bool   `json:"success"`
	ResponseStatus int    `json:"response_status,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	Error          string `json:"error,omitempty"`
}

/* Test sends one synthetic delivery outside the normal dispatch path for
 * operator verification. Nothing is persisted, so test traffic never
 * leaks into the delivery statistics.
 */
func (c *Coordinator) Test(ctx context.Context, webhookID, eventType string, sampleData json.RawMessage) (TestResult, error) {
	wh, err := c.Store.Get(ctx, webhookID)
	if err != nil {
		return TestResult{}, fmt.Errorf("getting webhook: %w", err)
	}
	if err := payload.ValidateEventType(eventType); err != nil {
		return TestResult{}, webhook.ValidationError{Field: "event_type", Reason: err.Error()}
	}
	if len(sampleData) == 0 {
		sampleData = json.RawMessage(`{"test":true}`)
	}

	d := webhook.Delivery{
		ID:           uuid.New().String(),
		WebhookID:    wh.ID,
		EventID:      uuid.New().String(),
		EventType:    eventType,
		Payload:      sampleData,
		AttemptCount: 1,
		MaxAttempts:  1,
	}

	res := c.Executor.send(ctx, wh, d)
	out := TestResult{
		Success:        res.success(),
		ResponseStatus: res.StatusCode,
		ResponseBody:   res.Body,
		ElapsedMs:      res.ElapsedMs,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out, nil
}

/* RetryDelivery re-triggers a single delivery by id, bypassing the retry
 * schedule. Terminal failures get a fresh attempt budget on top of their
 * recorded attempt history.
 */
func (c *Coordinator) RetryDelivery(ctx context.Context, id string) error {
	d, err := c.Store.GetDelivery(ctx, id)
	if err != nil {
		return fmt.Errorf("getting delivery: %w", err)
	}

	switch d.Status {
	case webhook.DeliverySuccess:
		return webhook.ValidationError{Field: "delivery", Reason: "already succeeded"}
	case webhook.DeliveryPending:
		return webhook.ValidationError{Field: "delivery", Reason: "already queued"}
	}

	wh, err := c.Store.Get(ctx, d.WebhookID)
	if err != nil {
		return fmt.Errorf("getting webhook: %w", err)
	}

	if !d.AttemptsLeft() {
		d.MaxAttempts = d.AttemptCount + wh.MaxAttempts()
	}
	d.Status = webhook.DeliveryRetrying
	d.NextRetryAt = nil

	if err := c.Store.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("requeueing delivery: %w", err)
	}

	c.Submit(d)
	return nil
}

/* RetryFailedDeliveries bulk re-triggers every exhausted and failed
 * delivery, used for operational recovery after a receiver outage ends.
 * Returns how many deliveries were requeued.
 */
func (c *Coordinator) RetryFailedDeliveries(ctx context.Context) (int, error) {
	failed, err := c.Store.ListFailedDeliveries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing failed deliveries: %w", err)
	}

	requeued := 0
	for _, d := range failed {
		if err := c.RetryDelivery(ctx, d.ID); err != nil {
			c.Logger.Warn("requeueing failed delivery", "delivery_id", d.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}
