package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/go-chi/chi/v5"
)

/* HTTP layer DTOs for the webhook registration API
 * Separate from domain entities to avoid leaking internal structure
 */

// webhookRequest represents the body of create and update calls
type webhookRequest struct {
	Name           *string  `json:"name"`
	URL            *string  `json:"url"`
	EventTypes     []string `json:"event_types"`
	MaxRetries     *int     `json:"max_retries"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
	CreatedBy      string   `json:"created_by"`
}

// webhookResponse represents a webhook in the API.
// The signing secret is only included on create and secret rotation.
type webhookResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	URL                  string     `json:"url"`
	Secret               string     `json:"secret,omitempty"`
	Status               string     `json:"status"`
	EventTypes           []string   `json:"event_types"`
	MaxRetries           int        `json:"max_retries"`
	TimeoutSeconds       int        `json:"timeout_seconds"`
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	CreatedBy            string     `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toWebhookResponse(wh webhook.Webhook, includeSecret bool) webhookResponse {
	resp := webhookResponse{
		ID:                   wh.ID,
		Name:                 wh.Name,
		URL:                  wh.URL,
		Status:               wh.Status.String(),
		EventTypes:           wh.EventTypes,
		MaxRetries:           wh.MaxRetries,
		TimeoutSeconds:       wh.TimeoutSeconds,
		TotalDeliveries:      wh.TotalDeliveries,
		SuccessfulDeliveries: wh.SuccessfulDeliveries,
		FailedDeliveries:     wh.FailedDeliveries,
		LastDeliveryAt:       wh.LastDeliveryAt,
		LastSuccessAt:        wh.LastSuccessAt,
		CreatedBy:            wh.CreatedBy,
		CreatedAt:            wh.CreatedAt,
		UpdatedAt:            wh.UpdatedAt,
	}
	if includeSecret {
		resp.Secret = wh.Secret
	}
	return resp
}

func getWebhooks(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := webhookService.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]webhookResponse, 0, len(all))
		for _, wh := range all {
			result = append(result, toWebhookResponse(wh, false))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

func getWebhook(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, err := webhookService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toWebhookResponse(wh, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func postWebhook(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wr webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&wr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		in := webhook.CreateInput{
			EventTypes:     wr.EventTypes,
			MaxRetries:     wr.MaxRetries,
			TimeoutSeconds: wr.TimeoutSeconds,
			CreatedBy:      wr.CreatedBy,
		}
		if wr.Name != nil {
			in.Name = *wr.Name
		}
		if wr.URL != nil {
			in.URL = *wr.URL
		}

		wh, err := webhookService.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}

		// The secret is returned once; subsequent reads omit it
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(toWebhookResponse(wh, true)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func putWebhook(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wr webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&wr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		wh, err := webhookService.Update(r.Context(), chi.URLParam(r, "id"), webhook.UpdateInput{
			Name:           wr.Name,
			URL:            wr.URL,
			EventTypes:     wr.EventTypes,
			MaxRetries:     wr.MaxRetries,
			TimeoutSeconds: wr.TimeoutSeconds,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toWebhookResponse(wh, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func deleteWebhook(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := webhookService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func setWebhookStatus(webhookService webhook.UseCase, status webhook.Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, err := webhookService.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toWebhookResponse(wh, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func regenerateSecret(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, err := webhookService.RegenerateSecret(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toWebhookResponse(wh, true)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func getStatistics(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := webhookService.Statistics(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
