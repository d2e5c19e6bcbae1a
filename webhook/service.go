package webhook

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/dispatchd/webhook-engine/webhook/payload"
	"github.com/dispatchd/webhook-engine/webhook/signature"
	"github.com/google/uuid"
)

/* Service represents the business logic layer for webhook registration
 * Uses pointer semantics as it's an API, not data
 */

// CreateInput carries the fields for registering a new webhook.
type CreateInput struct {
	Name           string
	URL            string
	EventTypes     []string
	MaxRetries     *int
	TimeoutSeconds *int
	CreatedBy      string
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name           *string
	URL            *string
	EventTypes     []string
	Status         *Status
	MaxRetries     *int
	TimeoutSeconds *int
}

// Statistics summarizes a webhook's delivery history.
type Statistics struct {
	Total       int64   `json:"total"`
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// UseCase defines the business operations for webhook management
type UseCase interface {
	Create(ctx context.Context, in CreateInput) (Webhook, error)
	Update(ctx context.Context, id string, in UpdateInput) (Webhook, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Webhook, error)
	List(ctx context.Context) ([]Webhook, error)
	SetStatus(ctx context.Context, id string, status Status) (Webhook, error)
	RegenerateSecret(ctx context.Context, id string) (Webhook, error)
	ActiveForEventType(ctx context.Context, eventType string) ([]Webhook, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error)
	Statistics(ctx context.Context, webhookID string) (Statistics, error)
}

type Service struct {
	Repo Repository
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository) *Service {
	return &Service{
		Repo: repo,
	}
}

// Create registers a webhook with a freshly generated signing secret.
func (s *Service) Create(ctx context.Context, in CreateInput) (Webhook, error) {
	if err := validateURL(in.URL); err != nil {
		return Webhook{}, err
	}
	if err := validateEventTypes(in.EventTypes); err != nil {
		return Webhook{}, err
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return Webhook{}, fmt.Errorf("generating secret: %w", err)
	}

	now := time.Now().UTC()
	wh := Webhook{
		ID:             uuid.New().String(),
		Name:           in.Name,
		URL:            in.URL,
		Secret:         secret,
		Status:         Active,
		EventTypes:     in.EventTypes,
		MaxRetries:     DefaultMaxRetries,
		TimeoutSeconds: DefaultTimeoutSeconds,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.MaxRetries != nil {
		wh.MaxRetries = *in.MaxRetries
	}
	if in.TimeoutSeconds != nil {
		wh.TimeoutSeconds = *in.TimeoutSeconds
	}
	if wh.MaxRetries < 0 {
		return Webhook{}, ValidationError{Field: "max_retries", Reason: "cannot be negative"}
	}
	if wh.TimeoutSeconds < 1 {
		return Webhook{}, ValidationError{Field: "timeout_seconds", Reason: "must be at least 1"}
	}

	if err := s.Repo.Store(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("storing webhook: %w", err)
	}
	return wh, nil
}

// Update applies a partial update to an existing webhook.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Webhook, error) {
	wh, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}

	if in.Name != nil {
		wh.Name = *in.Name
	}
	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return Webhook{}, err
		}
		wh.URL = *in.URL
	}
	if in.EventTypes != nil {
		if err := validateEventTypes(in.EventTypes); err != nil {
			return Webhook{}, err
		}
		wh.EventTypes = in.EventTypes
	}
	if in.Status != nil {
		if err := in.Status.Validate(); err != nil {
			return Webhook{}, ValidationError{Field: "status", Reason: err.Error()}
		}
		wh.Status = *in.Status
	}
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 {
			return Webhook{}, ValidationError{Field: "max_retries", Reason: "cannot be negative"}
		}
		wh.MaxRetries = *in.MaxRetries
	}
	if in.TimeoutSeconds != nil {
		if *in.TimeoutSeconds < 1 {
			return Webhook{}, ValidationError{Field: "timeout_seconds", Reason: "must be at least 1"}
		}
		wh.TimeoutSeconds = *in.TimeoutSeconds
	}
	wh.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Update(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	return wh, nil
}

/* Delete removes the webhook so it receives no future events.
 * Delivery history is kept as an immutable audit record; retention is an
 * administrative concern outside this service.
 */
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return nil
}

// Get retrieves a webhook by ID
func (s *Service) Get(ctx context.Context, id string) (Webhook, error) {
	wh, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}
	return wh, nil
}

// List returns all registered webhooks
func (s *Service) List(ctx context.Context) ([]Webhook, error) {
	whs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return whs, nil
}

// SetStatus activates or deactivates a webhook.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (Webhook, error) {
	st := status
	return s.Update(ctx, id, UpdateInput{Status: &st})
}

/* RegenerateSecret replaces the signing secret in place. The old secret is
 * invalid for all future signing; deliveries already signed with it are
 * unaffected.
 */
func (s *Service) RegenerateSecret(ctx context.Context, id string) (Webhook, error) {
	wh, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return Webhook{}, fmt.Errorf("generating secret: %w", err)
	}
	wh.Secret = secret
	wh.UpdatedAt = time.Now().UTC()

	if err := s.Repo.Update(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	return wh, nil
}

// ActiveForEventType returns the active webhooks subscribed to the event type.
func (s *Service) ActiveForEventType(ctx context.Context, eventType string) ([]Webhook, error) {
	whs, err := s.Repo.ActiveForEventType(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("matching webhooks: %w", err)
	}
	return whs, nil
}

// ListDeliveries returns a webhook's recent deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error) {
	if _, err := s.Repo.Get(ctx, webhookID); err != nil {
		return nil, fmt.Errorf("getting webhook: %w", err)
	}
	ds, err := s.Repo.ListDeliveries(ctx, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return ds, nil
}

/* Statistics derives counts from stored deliveries rather than the rolling
 * counters, so concurrent increments can never skew a dashboard read.
 */
func (s *Service) Statistics(ctx context.Context, webhookID string) (Statistics, error) {
	if _, err := s.Repo.Get(ctx, webhookID); err != nil {
		return Statistics{}, fmt.Errorf("getting webhook: %w", err)
	}

	counts, err := s.Repo.CountDeliveries(ctx, webhookID)
	if err != nil {
		return Statistics{}, fmt.Errorf("counting deliveries: %w", err)
	}

	stats := Statistics{
		Successful: counts[DeliverySuccess],
		Failed:     counts[DeliveryFailed] + counts[DeliveryExhausted],
	}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return ValidationError{Field: "url", Reason: "cannot be empty"}
	}
	if len(raw) > MaxURLLength {
		return ValidationError{Field: "url", Reason: fmt.Sprintf("exceeds %d characters", MaxURLLength)}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	return nil
}

func validateEventTypes(types []string) error {
	if len(types) == 0 {
		return ValidationError{Field: "event_types", Reason: "cannot be empty"}
	}
	if len(types) > MaxEventTypes {
		return ValidationError{Field: "event_types", Reason: fmt.Sprintf("exceeds %d entries", MaxEventTypes)}
	}
	for _, t := range types {
		if err := payload.ValidateEventType(t); err != nil {
			return ValidationError{Field: "event_types", Reason: err.Error()}
		}
	}
	return nil
}
