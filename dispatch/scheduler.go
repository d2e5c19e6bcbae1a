package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
)

const (
	// DefaultSweepInterval is how often due retries are collected.
	DefaultSweepInterval = 30 * time.Second

	// DefaultSweepBatch caps how many due deliveries one sweep claims.
	DefaultSweepBatch = 100
)

// Submitter hands claimed deliveries to the worker pool.
type Submitter interface {
	Submit(d webhook.Delivery)
}

/* Scheduler periodically resubmits deliveries whose NextRetryAt has
 * elapsed. The store's ClaimDue is the concurrency guard: a delivery is
 * removed from the retry schedule atomically, so running several scheduler
 * instances at once only ever yields at-least-once retries, never two
 * concurrent attempts for the same delivery.
 */
type Scheduler struct {
	Store    webhook.DeliveryWriter
	Pool     Submitter
	Interval time.Duration
	Batch    int
	Clock    Clock
	Logger   *slog.Logger
}

// NewScheduler creates a scheduler with default interval and batch size.
func NewScheduler(store webhook.DeliveryWriter, pool Submitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Store:    store,
		Pool:     pool,
		Interval: DefaultSweepInterval,
		Batch:    DefaultSweepBatch,
		Clock:    SystemClock{},
		Logger:   logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("retry scheduler started", "interval", s.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				// Next tick retries; due deliveries stay scheduled
				s.Logger.Error("retry sweep failed", "error", err)
			}
		}
	}
}

// Sweep claims all currently due retries and resubmits them.
// Returns how many deliveries were claimed.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.Store.ClaimDue(ctx, s.Clock.Now(), s.Batch)
	if err != nil {
		return 0, err
	}

	for _, d := range due {
		s.Pool.Submit(d)
	}

	if len(due) > 0 {
		s.Logger.Info("retry sweep", "claimed", len(due))
	}
	return len(due), nil
}
