//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

/* Test Helpers for PostgreSQL Integration Tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

const (
	defaultDatabase = "testdb"
	defaultUser     = "testuser"
	defaultPassword = "testpass"
)

// PostgresContainer holds the container and connection details
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	ConnStr   string
}

// SetupPostgresContainer creates and starts a real PostgreSQL container
func SetupPostgresContainer(t *testing.T, ctx context.Context) (*PostgresContainer, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(defaultDatabase),
		tcpostgres.WithUsername(defaultUser),
		tcpostgres.WithPassword(defaultPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	err = db.PingContext(ctx)
	require.NoError(t, err)

	container := &PostgresContainer{
		Container: pgContainer,
		DB:        db,
		ConnStr:   connStr,
	}

	cleanup := func() {
		if db != nil {
			_ = db.Close()
		}
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
	}

	return container, cleanup
}

// CreateTestStore creates a store for tests with the schema in place
func CreateTestStore(t *testing.T, ctx context.Context, connStr string) *Store {
	t.Helper()

	store, err := NewStore(connStr)
	require.NoError(t, err)

	err = store.CreateTables(ctx)
	require.NoError(t, err)

	return store
}

// newTestWebhook builds a webhook row suitable for integration tests
func newTestWebhook(t *testing.T, id string, eventTypes ...string) webhook.Webhook {
	t.Helper()

	if len(eventTypes) == 0 {
		eventTypes = []string{"order.created"}
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	return webhook.Webhook{
		ID:             id,
		Name:           "hook-" + id,
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

// newTestDelivery builds a delivery row for the given webhook
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
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}
