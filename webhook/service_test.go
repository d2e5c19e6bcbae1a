package webhook_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *webhook.Service {
	return webhook.NewService(memory.NewStore())
}

func ptr[T any](v T) *T { return &v }

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("success - defaults applied", func(t *testing.T) {
		s := newService()

		wh, err := s.Create(ctx, webhook.CreateInput{
			Name:       "billing",
			URL:        "https://billing.example.com/hooks",
			EventTypes: []string{"USER_REGISTERED", "CHECKIN_COMPLETED"},
			CreatedBy:  "ops",
		})

		require.NoError(t, err)
		assert.NotEmpty(t, wh.ID)
		assert.NotEmpty(t, wh.Secret)
		assert.Equal(t, webhook.Active, wh.Status)
		assert.Equal(t, webhook.DefaultMaxRetries, wh.MaxRetries)
		assert.Equal(t, webhook.DefaultTimeoutSeconds, wh.TimeoutSeconds)
		assert.Equal(t, 4, wh.MaxAttempts())
	})

	t.Run("success - explicit retry and timeout settings", func(t *testing.T) {
		s := newService()

		wh, err := s.Create(ctx, webhook.CreateInput{
			Name:           "audit",
			URL:            "https://audit.example.com/hooks",
			EventTypes:     []string{"EVENT_PUBLISHED"},
			MaxRetries:     ptr(5),
			TimeoutSeconds: ptr(10),
		})

		require.NoError(t, err)
		assert.Equal(t, 5, wh.MaxRetries)
		assert.Equal(t, 10, wh.TimeoutSeconds)
	})

	t.Run("error - empty event types", func(t *testing.T) {
		s := newService()

		_, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com",
		})

		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("error - too many event types", func(t *testing.T) {
		s := newService()

		types := make([]string, webhook.MaxEventTypes+1)
		for i := range types {
			types[i] = "EVENT_" + strings.Repeat("X", i+1)
		}
		_, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com", EventTypes: types,
		})

		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("error - url too long", func(t *testing.T) {
		s := newService()

		_, err := s.Create(ctx, webhook.CreateInput{
			Name:       "x",
			URL:        "https://x.example.com/" + strings.Repeat("a", webhook.MaxURLLength),
			EventTypes: []string{"USER_REGISTERED"},
		})

		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("error - relative url", func(t *testing.T) {
		s := newService()

		_, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "/hooks", EventTypes: []string{"USER_REGISTERED"},
		})

		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})

	t.Run("secrets differ across webhooks", func(t *testing.T) {
		s := newService()

		a, err := s.Create(ctx, webhook.CreateInput{
			Name: "a", URL: "https://a.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)
		b, err := s.Create(ctx, webhook.CreateInput{
			Name: "b", URL: "https://b.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		assert.NotEqual(t, a.Secret, b.Secret)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("success - partial update", func(t *testing.T) {
		s := newService()
		wh, err := s.Create(ctx, webhook.CreateInput{
			Name: "orig", URL: "https://orig.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		updated, err := s.Update(ctx, wh.ID, webhook.UpdateInput{
			Name:       ptr("renamed"),
			EventTypes: []string{"EVENT_PUBLISHED"},
		})

		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.Equal(t, []string{"EVENT_PUBLISHED"}, updated.EventTypes)
		// Untouched fields survive
		assert.Equal(t, wh.URL, updated.URL)
		assert.Equal(t, wh.Secret, updated.Secret)
	})

	t.Run("error - unknown id", func(t *testing.T) {
		s := newService()

		_, err := s.Update(ctx, "missing", webhook.UpdateInput{Name: ptr("x")})
		require.Error(t, err)
		assert.True(t, webhook.IsNotFound(err))
	})

	t.Run("error - invalid new url", func(t *testing.T) {
		s := newService()
		wh, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		_, err = s.Update(ctx, wh.ID, webhook.UpdateInput{URL: ptr("ftp://nope")})
		require.Error(t, err)
		assert.True(t, webhook.IsValidation(err))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s := newService()
		wh, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, wh.ID))

		_, err = s.Get(ctx, wh.ID)
		assert.True(t, webhook.IsNotFound(err))
	})

	t.Run("error - unknown id", func(t *testing.T) {
		s := newService()
		err := s.Delete(ctx, "missing")
		require.Error(t, err)
		assert.True(t, webhook.IsNotFound(err))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	s := newService()
	wh, err := s.Create(ctx, webhook.CreateInput{
		Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
	})
	require.NoError(t, err)

	deactivated, err := s.SetStatus(ctx, wh.ID, webhook.Inactive)
	require.NoError(t, err)
	assert.Equal(t, webhook.Inactive, deactivated.Status)

	reactivated, err := s.SetStatus(ctx, wh.ID, webhook.Active)
	require.NoError(t, err)
	assert.Equal(t, webhook.Active, reactivated.Status)
}

func TestRegenerateSecret(t *testing.T) {
	ctx := context.Background()
	s := newService()
	wh, err := s.Create(ctx, webhook.CreateInput{
		Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
	})
	require.NoError(t, err)

	rotated, err := s.RegenerateSecret(ctx, wh.ID)
	require.NoError(t, err)
	assert.NotEqual(t, wh.Secret, rotated.Secret)
	assert.NotEmpty(t, rotated.Secret)

	stored, err := s.Get(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated.Secret, stored.Secret)
}

func TestActiveForEventType(t *testing.T) {
	ctx := context.Background()
	s := newService()

	matching, err := s.Create(ctx, webhook.CreateInput{
		Name: "m", URL: "https://m.example.com", EventTypes: []string{"USER_REGISTERED", "EVENT_PUBLISHED"},
	})
	require.NoError(t, err)

	_, err = s.Create(ctx, webhook.CreateInput{
		Name: "other", URL: "https://o.example.com", EventTypes: []string{"CHECKIN_COMPLETED"},
	})
	require.NoError(t, err)

	inactive, err := s.Create(ctx, webhook.CreateInput{
		Name: "off", URL: "https://off.example.com", EventTypes: []string{"USER_REGISTERED"},
	})
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, inactive.ID, webhook.Inactive)
	require.NoError(t, err)

	got, err := s.ActiveForEventType(ctx, "USER_REGISTERED")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, matching.ID, got[0].ID)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()

	t.Run("zero total means zero rate", func(t *testing.T) {
		s := newService()
		wh, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		stats, err := s.Statistics(ctx, wh.ID)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
		assert.Zero(t, stats.SuccessRate)
	})

	t.Run("derived from stored deliveries", func(t *testing.T) {
		store := memory.NewStore()
		s := webhook.NewService(store)
		wh, err := s.Create(ctx, webhook.CreateInput{
			Name: "x", URL: "https://x.example.com", EventTypes: []string{"USER_REGISTERED"},
		})
		require.NoError(t, err)

		seed := []webhook.DeliveryStatus{
			webhook.DeliverySuccess,
			webhook.DeliverySuccess,
			webhook.DeliverySuccess,
			webhook.DeliveryFailed,
			webhook.DeliveryExhausted,
			webhook.DeliveryRetrying,
		}
		for i, st := range seed {
			require.NoError(t, store.StoreDelivery(ctx, webhook.Delivery{
				ID:        string(rune('a' + i)),
				WebhookID: wh.ID,
				EventType: "USER_REGISTERED",
				Status:    st,
			}))
		}

		stats, err := s.Statistics(ctx, wh.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), stats.Total)
		assert.Equal(t, int64(3), stats.Successful)
		assert.Equal(t, int64(2), stats.Failed)
		assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	})

	t.Run("error - unknown webhook", func(t *testing.T) {
		s := newService()
		_, err := s.Statistics(ctx, "missing")
		require.Error(t, err)
		assert.True(t, webhook.IsNotFound(err))
	})
}
