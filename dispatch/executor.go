package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/payload"
	"github.com/dispatchd/webhook-engine/webhook/signature"
)

// EventTypeHeader names the request header carrying the event-type tag.
const EventTypeHeader = "X-Webhook-Event-Type"

/* Executor performs one delivery attempt and computes the next state.
 * State machine: pending -> {success, failed, retrying},
 * retrying -> {success, retrying, exhausted}. Attempts for one delivery are
 * strictly sequential; the executor is only ever invoked by whichever
 * component holds the delivery (coordinator for pending, scheduler claim
 * for due retries), never both at once.
 */
type Executor struct {
	Store     webhook.Repository
	Transport Transport
	Clock     Clock
	Logger    *slog.Logger
}

// NewExecutor creates an executor with the system clock.
func NewExecutor(store webhook.Repository, transport Transport, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Store:     store,
		Transport: transport,
		Clock:     SystemClock{},
		Logger:    logger,
	}
}

// attemptResult is what one HTTP attempt observed.
type attemptResult struct {
	StatusCode int
	Body       string
	ElapsedMs  int64
	Err        error
}

func (r attemptResult) success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

/* Client errors reflect a permanent incompatibility between sender and
 * receiver; retrying will not help.
 */
func (r attemptResult) rejected() bool {
	return r.Err == nil && r.StatusCode >= 400 && r.StatusCode < 500
}

// Execute runs one attempt for the delivery and persists the outcome.
// The returned delivery reflects the new stored state.
func (e *Executor) Execute(ctx context.Context, d webhook.Delivery) (webhook.Delivery, error) {
	if d.Status.IsFinal() {
		// Forward-only state machine; a terminal delivery is never re-run
		return d, nil
	}

	wh, err := e.Store.Get(ctx, d.WebhookID)
	if err != nil {
		if webhook.IsNotFound(err) {
			// Webhook deleted after dispatch; the delivery can never land
			d.Status = webhook.DeliveryFailed
			d.ErrorMessage = "webhook no longer registered"
			d.NextRetryAt = nil
			if updErr := e.Store.UpdateDelivery(ctx, d); updErr != nil {
				return d, fmt.Errorf("recording orphaned delivery: %w", updErr)
			}
			return d, nil
		}
		return d, fmt.Errorf("getting webhook: %w", err)
	}

	now := e.Clock.Now()
	d.AttemptCount++

	// A delivery is counted once, regardless of how often it is retried
	if d.AttemptCount == 1 {
		if err := e.Store.MarkDispatched(ctx, wh.ID, now); err != nil {
			e.Logger.Warn("recording dispatch counter", "webhook_id", wh.ID, "error", err)
		}
	}

	res := e.send(ctx, wh, d)

	switch {
	case res.success():
		d.Status = webhook.DeliverySuccess
		delivered := e.Clock.Now()
		d.DeliveredAt = &delivered
		d.NextRetryAt = nil
		d.ResponseStatus = res.StatusCode
		d.ResponseBody = res.Body
		d.ErrorMessage = ""
		if err := e.Store.MarkSucceeded(ctx, wh.ID, delivered); err != nil {
			e.Logger.Warn("recording success counter", "webhook_id", wh.ID, "error", err)
		}

	case res.rejected():
		d.Status = webhook.DeliveryFailed
		d.NextRetryAt = nil
		d.ResponseStatus = res.StatusCode
		d.ResponseBody = res.Body
		d.ErrorMessage = fmt.Sprintf("receiver rejected with status %d", res.StatusCode)
		if err := e.Store.MarkFailed(ctx, wh.ID); err != nil {
			e.Logger.Warn("recording failure counter", "webhook_id", wh.ID, "error", err)
		}

	default:
		// Transport error, timeout, or receiver unavailable: retryable
		if res.StatusCode != 0 {
			d.ResponseStatus = res.StatusCode
			d.ResponseBody = res.Body
			d.ErrorMessage = fmt.Sprintf("receiver unavailable with status %d", res.StatusCode)
		} else if res.Err != nil {
			d.ErrorMessage = res.Err.Error()
		}

		if d.AttemptsLeft() {
			d.Status = webhook.DeliveryRetrying
			next := now.Add(Backoff(d.AttemptCount))
			d.NextRetryAt = &next
		} else {
			d.Status = webhook.DeliveryExhausted
			d.NextRetryAt = nil
			if err := e.Store.MarkFailed(ctx, wh.ID); err != nil {
				e.Logger.Warn("recording failure counter", "webhook_id", wh.ID, "error", err)
			}
		}
	}

	if err := e.Store.UpdateDelivery(ctx, d); err != nil {
		return d, fmt.Errorf("recording delivery outcome: %w", err)
	}

	e.Logger.Info("delivery attempt",
		"delivery_id", d.ID,
		"webhook_id", wh.ID,
		"event_type", d.EventType,
		"attempt", d.AttemptCount,
		"status", d.Status.String(),
		"response_status", res.StatusCode,
		"elapsed_ms", res.ElapsedMs,
	)

	return d, nil
}

/* send signs and posts one request. It has no side effects on the store,
 * so the administrative test path reuses it without touching statistics.
 */
func (e *Executor) send(ctx context.Context, wh webhook.Webhook, d webhook.Delivery) attemptResult {
	env, err := payload.Build(d.ID, d.EventID, d.EventType, e.Clock.Now(), d.Payload, payload.Metadata{
		WebhookID:   wh.ID,
		Attempt:     d.AttemptCount,
		MaxAttempts: d.MaxAttempts,
	})
	if err != nil {
		return attemptResult{Err: fmt.Errorf("building envelope: %w", err)}
	}

	body, err := env.Bytes()
	if err != nil {
		return attemptResult{Err: fmt.Errorf("encoding envelope: %w", err)}
	}

	headers := map[string]string{
		"Content-Type":   "application/json",
		signature.Header: signature.Sign(body, wh.Secret),
		EventTypeHeader:  d.EventType,
	}

	resp, err := e.Transport.Post(ctx, wh.URL, body, headers, wh.Timeout())
	if err != nil {
		return attemptResult{ElapsedMs: resp.Elapsed.Milliseconds(), Err: err}
	}

	return attemptResult{
		StatusCode: resp.StatusCode,
		Body:       truncate(resp.Body, webhook.MaxResponseBodyBytes),
		ElapsedMs:  resp.Elapsed.Milliseconds(),
	}
}

func truncate(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}
