package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(e *env) *dispatch.Coordinator {
	return dispatch.NewCoordinator(e.store, e.executor, nil)
}

func TestDeliverEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("no subscribers is a no-op", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)

		n, err := c.DeliverEvent(ctx, dispatch.Event{
			ID:   "evt-1",
			Type: "USER_REGISTERED",
			Data: json.RawMessage(`{"userId":1}`),
		})

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, e.transport.Calls())
	})

	t.Run("one delivery per matching active webhook", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)

		first := e.createWebhook(t, "USER_REGISTERED", "CHECKIN_COMPLETED")
		second := e.createWebhook(t, "USER_REGISTERED")
		other := e.createWebhook(t, "EVENT_PUBLISHED")
		inactive := e.createWebhook(t, "USER_REGISTERED")
		_, err := e.service.SetStatus(ctx, inactive.ID, webhook.Inactive)
		require.NoError(t, err)

		n, err := c.DeliverEvent(ctx, dispatch.Event{
			ID:   "evt-2",
			Type: "USER_REGISTERED",
			Data: json.RawMessage(`{"userId":2}`),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, wh := range []webhook.Webhook{first, second} {
			ds, err := e.store.ListDeliveries(ctx, wh.ID, 0)
			require.NoError(t, err)
			require.Len(t, ds, 1)
			assert.Equal(t, webhook.DeliveryPending, ds[0].Status)
			assert.Equal(t, "evt-2", ds[0].EventID)
			assert.Equal(t, wh.MaxAttempts(), ds[0].MaxAttempts)
		}

		for _, wh := range []webhook.Webhook{other, inactive} {
			ds, err := e.store.ListDeliveries(ctx, wh.ID, 0)
			require.NoError(t, err)
			assert.Empty(t, ds, "webhook %s must not receive the event", wh.ID)
		}
	})

	t.Run("delivery ids are unique per webhook", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		a := e.createWebhook(t, "USER_REGISTERED")
		b := e.createWebhook(t, "USER_REGISTERED")

		_, err := c.DeliverEvent(ctx, dispatch.Event{
			Type: "USER_REGISTERED",
			Data: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		dsA, err := e.store.ListDeliveries(ctx, a.ID, 0)
		require.NoError(t, err)
		dsB, err := e.store.ListDeliveries(ctx, b.ID, 0)
		require.NoError(t, err)
		require.Len(t, dsA, 1)
		require.Len(t, dsB, 1)
		assert.NotEqual(t, dsA[0].ID, dsB[0].ID)
	})

	t.Run("payload is frozen at dispatch time", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")

		data := []byte(`{"email":"ada@example.com"}`)
		ev := dispatch.Event{Type: "USER_REGISTERED", Data: data}
		_, err := c.DeliverEvent(ctx, ev)
		require.NoError(t, err)

		copy(data, []byte(`{"email":"eve@evil.example"}`))

		ds, err := e.store.ListDeliveries(ctx, wh.ID, 0)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		assert.JSONEq(t, `{"email":"ada@example.com"}`, string(ds[0].Payload))
	})

	t.Run("invalid event type is a validation error", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)

		_, err := c.DeliverEvent(ctx, dispatch.Event{Type: "not a type!", Data: json.RawMessage(`{}`)})
		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("async end-to-end with worker pool", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")

		e.transport.respond = respondStatus(200)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.Start(ctx, 4)

		_, err := c.DeliverEvent(ctx, dispatch.Event{
			Type: "USER_REGISTERED",
			Data: json.RawMessage(`{"userId":3}`),
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			ds, err := e.store.ListDeliveries(context.Background(), wh.ID, 0)
			return err == nil && len(ds) == 1 && ds[0].Status == webhook.DeliverySuccess
		}, 2*time.Second, 10*time.Millisecond)

		counted, err := e.store.Get(context.Background(), wh.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counted.SuccessfulDeliveries)
	})
}

func TestTestDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("reports outcome without persisting anything", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")

		e.transport.respond = respondStatus(200)

		res, err := c.Test(ctx, wh.ID, "USER_REGISTERED", json.RawMessage(`{"probe":1}`))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 200, res.ResponseStatus)

		// Test traffic never reaches delivery history or statistics
		ds, err := e.store.ListDeliveries(ctx, wh.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, ds)

		stats, err := e.service.Statistics(ctx, wh.ID)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)

		counted, err := e.store.Get(ctx, wh.ID)
		require.NoError(t, err)
		assert.Zero(t, counted.TotalDeliveries)
	})

	t.Run("reports receiver failure", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")

		e.transport.respond = respondStatus(500)

		res, err := c.Test(ctx, wh.ID, "USER_REGISTERED", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 500, res.ResponseStatus)
	})

	t.Run("unknown webhook", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)

		_, err := c.Test(ctx, "missing", "USER_REGISTERED", nil)
		require.Error(t, err)
		assert.True(t, webhook.IsNotFound(err))
	})
}

func TestRetryDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeded delivery cannot be retried", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")
		d := e.pendingDelivery(t, wh, "USER_REGISTERED")

		e.transport.respond = respondStatus(200)
		_, err := e.executor.Execute(ctx, d)
		require.NoError(t, err)

		err = c.RetryDelivery(ctx, d.ID)
		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("exhausted delivery gets a fresh attempt budget", func(t *testing.T) {
		e := newEnv(t)
		c := newCoordinator(e)
		wh := e.createWebhook(t, "USER_REGISTERED")
		d := e.pendingDelivery(t, wh, "USER_REGISTERED")

		e.transport.respond = respondStatus(500)
		cur := d
		var err error
		for i := 0; i < wh.MaxAttempts(); i++ {
			cur, err = e.executor.Execute(ctx, cur)
			require.NoError(t, err)
		}
		require.Equal(t, webhook.DeliveryExhausted, cur.Status)

		ctxPool, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.Start(ctxPool, 2)

		e.transport.respond = respondStatus(200)
		require.NoError(t, c.RetryDelivery(ctx, d.ID))

		require.Eventually(t, func() bool {
			got, err := e.store.GetDelivery(context.Background(), d.ID)
			return err == nil && got.Status == webhook.DeliverySuccess
		}, 2*time.Second, 10*time.Millisecond)

		got, err := e.store.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		// Attempt history is preserved, not reset
		assert.Equal(t, wh.MaxAttempts()+1, got.AttemptCount)
	})
}

func TestRetryFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c := newCoordinator(e)
	wh := e.createWebhook(t, "USER_REGISTERED")

	e.transport.respond = respondStatus(404)

	// Two terminally failed deliveries, one successful
	for _, id := range []string{"fail-1", "fail-2"} {
		d := webhook.Delivery{
			ID: id, WebhookID: wh.ID, EventID: "evt", EventType: "USER_REGISTERED",
			Payload: json.RawMessage(`{}`), Status: webhook.DeliveryPending,
			MaxAttempts: wh.MaxAttempts(), CreatedAt: e.clock.Now(),
		}
		require.NoError(t, e.store.StoreDelivery(ctx, d))
		_, err := e.executor.Execute(ctx, d)
		require.NoError(t, err)
	}
	e.transport.respond = respondStatus(200)
	ok := e.pendingDelivery(t, wh, "USER_REGISTERED")
	_, err := e.executor.Execute(ctx, ok)
	require.NoError(t, err)

	ctxPool, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctxPool, 2)

	n, err := c.RetryFailedDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool {
		for _, id := range []string{"fail-1", "fail-2"} {
			d, err := e.store.GetDelivery(context.Background(), id)
			if err != nil || d.Status != webhook.DeliverySuccess {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
