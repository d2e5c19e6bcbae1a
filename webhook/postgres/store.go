package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/lib/pq"
)

/* PostgreSQL implementation of webhook.Repository
 * Event-type subscriptions are a TEXT[] column queried with ANY; the
 * retry schedule lives in the deliveries.next_retry_at column, and the
 * claim step is a conditional UPDATE that clears it. RETURNING reports
 * which rows the caller actually won, so concurrent scheduler instances
 * never double-claim a delivery.
 */

type Store struct {
	DB *sql.DB
}

// NewStore opens a PostgreSQL store with default pool settings (25, 5, 5 min)
func NewStore(connectionString string) (*Store, error) {
	return NewStoreWithPoolConfig(connectionString, 25, 5, 5)
}

// NewStoreWithPoolConfig opens a PostgreSQL store with a customized pool.
// maxOpenConns: maximum simultaneous connections (0 = unlimited)
// maxIdleConns: maximum idle connections kept in the pool
// maxLifeMinutes: maximum minutes a connection may be reused
func NewStoreWithPoolConfig(connectionString string, maxOpenConns, maxIdleConns, maxLifeMinutes int) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxLifeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	}

	return &Store{
		DB: db,
	}, nil
}

// Store inserts a webhook row
func (s *Store) Store(ctx context.Context, wh webhook.Webhook) error {
	query := `
		INSERT INTO webhooks (
			id, name, url, secret, status, event_types,
			max_retries, timeout_seconds,
			total_deliveries, successful_deliveries, failed_deliveries,
			last_delivery_at, last_success_at,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.DB.ExecContext(ctx, query,
		wh.ID, wh.Name, wh.URL, wh.Secret, wh.Status.String(), pq.Array(wh.EventTypes),
		wh.MaxRetries, wh.TimeoutSeconds,
		wh.TotalDeliveries, wh.SuccessfulDeliveries, wh.FailedDeliveries,
		wh.LastDeliveryAt, wh.LastSuccessAt,
		wh.CreatedBy, wh.CreatedAt, wh.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", err)
	}
	return nil
}

const webhookColumns = `
	id, name, url, secret, status, event_types,
	max_retries, timeout_seconds,
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_success_at,
	created_by, created_at, updated_at
`

// Get retrieves a webhook by ID
func (s *Store) Get(ctx context.Context, id string) (webhook.Webhook, error) {
	query := "SELECT " + webhookColumns + " FROM webhooks WHERE id = $1"
	return scanWebhook(s.DB.QueryRowContext(ctx, query, id))
}

// List returns all registered webhooks
func (s *Store) List(ctx context.Context) ([]webhook.Webhook, error) {
	query := "SELECT " + webhookColumns + " FROM webhooks ORDER BY created_at"

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selecting webhooks: %w", err)
	}
	defer rows.Close()

	return collectWebhooks(rows)
}

// ActiveForEventType returns active webhooks subscribed to the event type
func (s *Store) ActiveForEventType(ctx context.Context, eventType string) ([]webhook.Webhook, error) {
	query := "SELECT " + webhookColumns + ` FROM webhooks
		WHERE status = 'active' AND $1 = ANY(event_types)
		ORDER BY created_at`

	rows, err := s.DB.QueryContext(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("selecting webhooks by event type: %w", err)
	}
	defer rows.Close()

	return collectWebhooks(rows)
}

/* Update rewrites the mutable registration fields. The rolling counters
 * are owned by the Mark* increments and are not touched here.
 */
func (s *Store) Update(ctx context.Context, wh webhook.Webhook) error {
	query := `
		UPDATE webhooks
		SET name = $1, url = $2, secret = $3, status = $4, event_types = $5,
			max_retries = $6, timeout_seconds = $7, updated_at = $8
		WHERE id = $9
	`

	result, err := s.DB.ExecContext(ctx, query,
		wh.Name, wh.URL, wh.Secret, wh.Status.String(), pq.Array(wh.EventTypes),
		wh.MaxRetries, wh.TimeoutSeconds, wh.UpdatedAt, wh.ID,
	)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	return requireRow(result)
}

// Delete removes a webhook row. Delivery history is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return requireRow(result)
}

// MarkDispatched atomically counts a delivery against the webhook's totals
func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE webhooks
		SET total_deliveries = total_deliveries + 1, last_delivery_at = $1
		WHERE id = $2
	`

	result, err := s.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("incrementing total deliveries: %w", err)
	}
	return requireRow(result)
}

// MarkSucceeded atomically counts a successful delivery
func (s *Store) MarkSucceeded(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE webhooks
		SET successful_deliveries = successful_deliveries + 1, last_success_at = $1
		WHERE id = $2
	`

	result, err := s.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("incrementing successful deliveries: %w", err)
	}
	return requireRow(result)
}

// MarkFailed atomically counts a terminally failed delivery
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	query := `
		UPDATE webhooks
		SET failed_deliveries = failed_deliveries + 1
		WHERE id = $1
	`

	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("incrementing failed deliveries: %w", err)
	}
	return requireRow(result)
}

// StoreDelivery inserts a delivery row
func (s *Store) StoreDelivery(ctx context.Context, d webhook.Delivery) error {
	query := `
		INSERT INTO deliveries (
			id, webhook_id, event_id, event_type, payload, status,
			attempt_count, max_attempts,
			response_status, response_body, error_message,
			created_at, delivered_at, next_retry_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.DB.ExecContext(ctx, query,
		d.ID, d.WebhookID, d.EventID, d.EventType, []byte(d.Payload), d.Status.String(),
		d.AttemptCount, d.MaxAttempts,
		d.ResponseStatus, d.ResponseBody, d.ErrorMessage,
		d.CreatedAt, d.DeliveredAt, d.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

const deliveryColumns = `
	id, webhook_id, event_id, event_type, payload, status,
	attempt_count, max_attempts,
	response_status, response_body, error_message,
	created_at, delivered_at, next_retry_at
`

// GetDelivery retrieves a delivery by ID
func (s *Store) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	query := "SELECT " + deliveryColumns + " FROM deliveries WHERE id = $1"
	return scanDelivery(s.DB.QueryRowContext(ctx, query, id))
}

// UpdateDelivery rewrites the attempt-state fields of a delivery row
func (s *Store) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	query := `
		UPDATE deliveries
		SET status = $1, attempt_count = $2, max_attempts = $3,
			response_status = $4, response_body = $5, error_message = $6,
			delivered_at = $7, next_retry_at = $8
		WHERE id = $9
	`

	result, err := s.DB.ExecContext(ctx, query,
		d.Status.String(), d.AttemptCount, d.MaxAttempts,
		d.ResponseStatus, d.ResponseBody, d.ErrorMessage,
		d.DeliveredAt, d.NextRetryAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return requireRow(result)
}

// ListDeliveries returns a webhook's deliveries, most recent first
func (s *Store) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error) {
	query := "SELECT " + deliveryColumns + ` FROM deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC`
	args := []interface{}{webhookID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// ListFailedDeliveries returns all exhausted and failed deliveries
func (s *Store) ListFailedDeliveries(ctx context.Context) ([]webhook.Delivery, error) {
	query := "SELECT " + deliveryColumns + ` FROM deliveries
		WHERE status IN ('failed', 'exhausted')
		ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selecting failed deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// CountDeliveries returns per-status counts for one webhook
func (s *Store) CountDeliveries(ctx context.Context, webhookID string) (map[webhook.DeliveryStatus]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM deliveries
		WHERE webhook_id = $1
		GROUP BY status
	`

	rows, err := s.DB.QueryContext(ctx, query, webhookID)
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[webhook.DeliveryStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning delivery count: %w", err)
		}
		counts[webhook.NewDeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery counts: %w", err)
	}
	return counts, nil
}

/* ClaimDue claims due retries by clearing next_retry_at in a single
 * conditional UPDATE. Each row is claimed by exactly one caller because
 * the row no longer matches the WHERE clause once claimed.
 */
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		UPDATE deliveries
		SET next_retry_at = NULL
		WHERE id IN (
			SELECT id FROM deliveries
			WHERE status = 'retrying' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// Close closes the database connection
func (s *Store) Close(ctx context.Context) error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// CreateTables creates the webhooks and deliveries tables (useful for tests)
func (s *Store) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			status TEXT NOT NULL,
			event_types TEXT[] NOT NULL,
			max_retries INTEGER NOT NULL,
			timeout_seconds INTEGER NOT NULL,
			total_deliveries BIGINT NOT NULL DEFAULT 0,
			successful_deliveries BIGINT NOT NULL DEFAULT 0,
			failed_deliveries BIGINT NOT NULL DEFAULT 0,
			last_delivery_at TIMESTAMPTZ,
			last_success_at TIMESTAMPTZ,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			response_status INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			delivered_at TIMESTAMPTZ,
			next_retry_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries (webhook_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries (next_retry_at) WHERE next_retry_at IS NOT NULL`,
	}

	for _, query := range queries {
		if _, err := s.DB.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

// DropTables removes the webhooks and deliveries tables (useful for tests)
func (s *Store) DropTables(ctx context.Context) error {
	query := "DROP TABLE IF EXISTS deliveries, webhooks CASCADE"

	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("dropping tables: %w", err)
	}
	return nil
}

// requireRow maps a zero-row UPDATE/DELETE to webhook.ErrNotFound
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row rowScanner) (webhook.Webhook, error) {
	var wh webhook.Webhook
	var status string
	var types pq.StringArray
	var lastDelivery, lastSuccess sql.NullTime

	err := row.Scan(
		&wh.ID, &wh.Name, &wh.URL, &wh.Secret, &status, &types,
		&wh.MaxRetries, &wh.TimeoutSeconds,
		&wh.TotalDeliveries, &wh.SuccessfulDeliveries, &wh.FailedDeliveries,
		&lastDelivery, &lastSuccess,
		&wh.CreatedBy, &wh.CreatedAt, &wh.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return webhook.Webhook{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Webhook{}, fmt.Errorf("scanning webhook: %w", err)
	}

	wh.Status = webhook.NewStatus(status)
	wh.EventTypes = []string(types)
	if lastDelivery.Valid {
		t := lastDelivery.Time.UTC()
		wh.LastDeliveryAt = &t
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time.UTC()
		wh.LastSuccessAt = &t
	}
	return wh, nil
}

func collectWebhooks(rows *sql.Rows) ([]webhook.Webhook, error) {
	var out []webhook.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}
	return out, nil
}

func scanDelivery(row rowScanner) (webhook.Delivery, error) {
	var d webhook.Delivery
	var status string
	var payload []byte
	var delivered, nextRetry sql.NullTime

	err := row.Scan(
		&d.ID, &d.WebhookID, &d.EventID, &d.EventType, &payload, &status,
		&d.AttemptCount, &d.MaxAttempts,
		&d.ResponseStatus, &d.ResponseBody, &d.ErrorMessage,
		&d.CreatedAt, &delivered, &nextRetry,
	)
	if err == sql.ErrNoRows {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("scanning delivery: %w", err)
	}

	d.Payload = payload
	d.Status = webhook.NewDeliveryStatus(status)
	if delivered.Valid {
		t := delivered.Time.UTC()
		d.DeliveredAt = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time.UTC()
		d.NextRetryAt = &t
	}
	return d, nil
}

func collectDeliveries(rows *sql.Rows) ([]webhook.Delivery, error) {
	var out []webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return out, nil
}
