package dispatch_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/memory"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic retry timing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordedCall captures one POST observed by the stub transport.
type recordedCall struct {
	URL     string
	Body    []byte
	Headers map[string]string
	Timeout time.Duration
}

// stubTransport scripts responses and records every call.
type stubTransport struct {
	mu      sync.Mutex
	calls   []recordedCall
	respond func(call recordedCall) (dispatch.Response, error)
}

func (t *stubTransport) Post(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) (dispatch.Response, error) {
	t.mu.Lock()
	call := recordedCall{URL: url, Body: append([]byte(nil), body...), Headers: headers, Timeout: timeout}
	t.calls = append(t.calls, call)
	respond := t.respond
	t.mu.Unlock()

	if respond == nil {
		return dispatch.Response{StatusCode: 200}, nil
	}
	return respond(call)
}

func (t *stubTransport) Calls() []recordedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]recordedCall(nil), t.calls...)
}

func respondStatus(code int) func(recordedCall) (dispatch.Response, error) {
	return func(recordedCall) (dispatch.Response, error) {
		return dispatch.Response{StatusCode: code, Body: []byte(`{}`), Elapsed: 3 * time.Millisecond}, nil
	}
}

// env wires a memory store, stub transport, and fake clock together.
type env struct {
	store     *memory.Store
	service   *webhook.Service
	transport *stubTransport
	clock     *fakeClock
	executor  *dispatch.Executor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	transport := &stubTransport{}
	clock := newFakeClock()

	executor := dispatch.NewExecutor(store, transport, nil)
	executor.Clock = clock

	return &env{
		store:     store,
		service:   webhook.NewService(store),
		transport: transport,
		clock:     clock,
		executor:  executor,
	}
}

func (e *env) createWebhook(t *testing.T, eventTypes ...string) webhook.Webhook {
	t.Helper()
	wh, err := e.service.Create(context.Background(), webhook.CreateInput{
		Name:       "receiver",
		URL:        "https://receiver.example.com/hooks",
		EventTypes: eventTypes,
		CreatedBy:  "tests",
	})
	require.NoError(t, err)
	return wh
}

func (e *env) pendingDelivery(t *testing.T, wh webhook.Webhook, eventType string) webhook.Delivery {
	t.Helper()
	d := webhook.Delivery{
		ID:          "d-" + eventType,
		WebhookID:   wh.ID,
		EventID:     "evt-1",
		EventType:   eventType,
		Payload:     json.RawMessage(`{"sample":true}`),
		Status:      webhook.DeliveryPending,
		MaxAttempts: wh.MaxAttempts(),
		CreatedAt:   e.clock.Now(),
	}
	require.NoError(t, e.store.StoreDelivery(context.Background(), d))
	return d
}
