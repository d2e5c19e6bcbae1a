//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

/* Test Helpers for Redis Integration Tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

// RedisContainer holds the Redis testcontainer and connection details
type RedisContainer struct {
	Container *testcontainersredis.RedisContainer
	Addr      string
}

// SetupRedisContainer creates and starts a Redis testcontainer
func SetupRedisContainer(t *testing.T, ctx context.Context) (*RedisContainer, func()) {
	t.Helper()

	redisContainer, err := testcontainersredis.Run(ctx,
		"redis:7-alpine",
		testcontainersredis.WithSnapshotting(10, 1),
		testcontainersredis.WithLogLevel(testcontainersredis.LogLevelVerbose),
	)
	require.NoError(t, err, "failed to start Redis container")

	addr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")

	// Remove redis:// prefix if present
	if len(addr) > 8 && addr[:8] == "redis://" {
		addr = addr[8:]
	}

	// Wait for Redis to be ready
	time.Sleep(1 * time.Second)

	rc := &RedisContainer{
		Container: redisContainer,
		Addr:      addr,
	}

	cleanup := func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return rc, cleanup
}

// CreateTestStore creates a Redis store connected to the test container
func CreateTestStore(t *testing.T, addr string) *redis.Store {
	t.Helper()

	store, err := redis.NewStore(addr, "", 0)
	require.NoError(t, err, "failed to create Redis store")

	return store
}

// newTestWebhook builds a webhook record suitable for integration tests
func newTestWebhook(t *testing.T, id string, eventTypes ...string) webhook.Webhook {
	t.Helper()

	if len(eventTypes) == 0 {
		eventTypes = []string{"order.created"}
	}
	now := time.Now().UTC().Truncate(time.Second)
	return webhook.Webhook{
		ID:             id,
		Name:           fmt.Sprintf("hook-%s", id),
		URL:            "https://example.com/hooks",
		Secret:         "0011223344556677889900112233445566778899001122334455667788990011",
		Status:         webhook.Active,
		EventTypes:     eventTypes,
		MaxRetries:     webhook.DefaultMaxRetries,
		TimeoutSeconds: webhook.DefaultTimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// newTestDelivery builds a delivery record for the given webhook
func newTestDelivery(t *testing.T, id, webhookID string, status webhook.DeliveryStatus) webhook.Delivery {
	t.Helper()

	return webhook.Delivery{
		ID:           id,
		WebhookID:    webhookID,
		EventID:      "evt-" + id,
		EventType:    "order.created",
		Payload:      []byte(`{"order_id":123}`),
		Status:       status,
		AttemptCount: 0,
		MaxAttempts:  webhook.DefaultMaxRetries + 1,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// KeyExists checks if a Redis key exists
func KeyExists(t *testing.T, addr string, key string) bool {
	t.Helper()

	client := createRedisClient(addr)
	defer client.Close()

	exists, err := client.Exists(context.Background(), key).Result()
	require.NoError(t, err)

	return exists > 0
}

// ZSetSize returns the cardinality of a Redis sorted set
func ZSetSize(t *testing.T, addr string, key string) int64 {
	t.Helper()

	client := createRedisClient(addr)
	defer client.Close()

	n, err := client.ZCard(context.Background(), key).Result()
	require.NoError(t, err)

	return n
}

// createRedisClient creates a direct Redis client for testing helpers
func createRedisClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})
}
