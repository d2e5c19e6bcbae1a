package provision

import (
	"context"
	"fmt"
	"os"

	"github.com/dispatchd/webhook-engine/webhook"
	"gopkg.in/yaml.v3"
)

/* Loader manages declarative webhook provisioning from webhooks.yaml
 * Entries are upserted by name at startup, so the file can be kept in
 * version control and re-applied on every deploy.
 */

// Config represents the structure of webhooks.yaml
type Config struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig represents a single webhook in the YAML file
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	EventTypes     []string `yaml:"event_types"`
	MaxRetries     *int     `yaml:"max_retries"`     // Optional: override default
	TimeoutSeconds *int     `yaml:"timeout_seconds"` // Optional: override default
	Inactive       bool     `yaml:"inactive"`
}

// Loader holds the parsed provisioning entries
type Loader struct {
	entries []WebhookConfig
}

// NewLoader creates a new provisioning loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the webhooks.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading webhooks file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing webhooks YAML: %w", err)
	}

	for _, wc := range config.Webhooks {
		if wc.Name == "" {
			return fmt.Errorf("validating webhook entry: name is required")
		}
		if wc.URL == "" {
			return fmt.Errorf("validating webhook %q: url is required", wc.Name)
		}
		if len(wc.EventTypes) == 0 {
			return fmt.Errorf("validating webhook %q: event_types is required", wc.Name)
		}
	}

	l.entries = config.Webhooks
	return nil
}

// Entries returns the parsed provisioning entries
func (l *Loader) Entries() []WebhookConfig {
	return l.entries
}

/* Apply upserts every entry into the registry, keyed by name. Existing
 * registrations keep their ID and signing secret; missing ones are
 * created. Returns the number of created and updated webhooks.
 */
func (l *Loader) Apply(ctx context.Context, svc webhook.UseCase) (created, updated int, err error) {
	existing, err := svc.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing webhooks: %w", err)
	}

	byName := make(map[string]webhook.Webhook, len(existing))
	for _, wh := range existing {
		byName[wh.Name] = wh
	}

	for _, entry := range l.entries {
		status := webhook.Active
		if entry.Inactive {
			status = webhook.Inactive
		}

		if current, ok := byName[entry.Name]; ok {
			_, err := svc.Update(ctx, current.ID, webhook.UpdateInput{
				URL:            &entry.URL,
				EventTypes:     entry.EventTypes,
				Status:         &status,
				MaxRetries:     entry.MaxRetries,
				TimeoutSeconds: entry.TimeoutSeconds,
			})
			if err != nil {
				return created, updated, fmt.Errorf("updating webhook %q: %w", entry.Name, err)
			}
			updated++
			continue
		}

		wh, err := svc.Create(ctx, webhook.CreateInput{
			Name:           entry.Name,
			URL:            entry.URL,
			EventTypes:     entry.EventTypes,
			MaxRetries:     entry.MaxRetries,
			TimeoutSeconds: entry.TimeoutSeconds,
			CreatedBy:      "provisioning",
		})
		if err != nil {
			return created, updated, fmt.Errorf("creating webhook %q: %w", entry.Name, err)
		}
		created++

		if entry.Inactive {
			if _, err := svc.SetStatus(ctx, wh.ID, webhook.Inactive); err != nil {
				return created, updated, fmt.Errorf("deactivating webhook %q: %w", entry.Name, err)
			}
		}
	}
	return created, updated, nil
}
