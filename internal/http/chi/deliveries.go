package chi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/go-chi/chi/v5"
)

// deliveryResponse represents a delivery attempt record in the API
type deliveryResponse struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhook_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	ResponseStatus int             `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID,
		WebhookID:      d.WebhookID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Status:         d.Status.String(),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		ResponseStatus: d.ResponseStatus,
		ResponseBody:   d.ResponseBody,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
		DeliveredAt:    d.DeliveredAt,
		NextRetryAt:    d.NextRetryAt,
	}
}

// testRequest represents the body of a webhook test call
type testRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// getDeliveries handles GET /v1/webhooks/{id}/deliveries
func getDeliveries(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		deliveries, err := webhookService.ListDeliveries(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}

		result := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			result = append(result, toDeliveryResponse(d))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// getDelivery handles GET /v1/deliveries/{id}
func getDelivery(coordinator *dispatch.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := coordinator.Store.GetDelivery(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toDeliveryResponse(d)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// retryDelivery handles POST /v1/deliveries/{id}/retry
func retryDelivery(coordinator *dispatch.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := coordinator.RetryDelivery(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

// retryFailedDeliveries handles POST /v1/deliveries/retry-failed
func retryFailedDeliveries(coordinator *dispatch.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requeued, err := coordinator.RetryFailedDeliveries(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(map[string]int{"requeued": requeued}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// testWebhook handles POST /v1/webhooks/{id}/test
func testWebhook(coordinator *dispatch.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tr testRequest
		if err := json.NewDecoder(r.Body).Decode(&tr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := coordinator.Test(r.Context(), chi.URLParam(r, "id"), tr.EventType, tr.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
