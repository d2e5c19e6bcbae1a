package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
)

// Handlers sets up the webhook management and event ingestion routes
func Handlers(ctx context.Context, webhookService webhook.UseCase, coordinator *dispatch.Coordinator, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("webhook-engine", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Event ingestion
		r.Post("/events", postEvent(coordinator).ServeHTTP)

		// Webhook registration lifecycle
		r.Get("/webhooks", getWebhooks(webhookService).ServeHTTP)
		r.Post("/webhooks", postWebhook(webhookService).ServeHTTP)
		r.Get("/webhooks/{id}", getWebhook(webhookService).ServeHTTP)
		r.Put("/webhooks/{id}", putWebhook(webhookService).ServeHTTP)
		r.Delete("/webhooks/{id}", deleteWebhook(webhookService).ServeHTTP)
		r.Post("/webhooks/{id}/activate", setWebhookStatus(webhookService, webhook.Active).ServeHTTP)
		r.Post("/webhooks/{id}/deactivate", setWebhookStatus(webhookService, webhook.Inactive).ServeHTTP)
		r.Post("/webhooks/{id}/secret", regenerateSecret(webhookService).ServeHTTP)
		r.Post("/webhooks/{id}/test", testWebhook(coordinator).ServeHTTP)

		// Delivery history and administration
		r.Get("/webhooks/{id}/deliveries", getDeliveries(webhookService).ServeHTTP)
		r.Get("/webhooks/{id}/stats", getStatistics(webhookService).ServeHTTP)
		r.Get("/deliveries/{id}", getDelivery(coordinator).ServeHTTP)
		r.Post("/deliveries/{id}/retry", retryDelivery(coordinator).ServeHTTP)
		r.Post("/deliveries/retry-failed", retryFailedDeliveries(coordinator).ServeHTTP)
	})

	return r
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case webhook.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case webhook.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
