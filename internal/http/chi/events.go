package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/google/uuid"
)

// eventRequest represents an incoming domain event
type eventRequest struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// eventResponse reports how many deliveries an event fanned out to
type eventResponse struct {
	EventID    string `json:"event_id"`
	Dispatched int    `json:"dispatched"`
}

// postEvent handles POST /v1/events
func postEvent(coordinator *dispatch.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var er eventRequest
		if err := json.NewDecoder(r.Body).Decode(&er); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if er.ID == "" {
			er.ID = uuid.New().String()
		}
		ev := dispatch.Event{
			ID:         er.ID,
			Type:       er.Type,
			OccurredAt: er.OccurredAt,
			Data:       er.Data,
		}

		dispatched, err := coordinator.DeliverEvent(r.Context(), ev)
		if err != nil {
			writeError(w, err)
			return
		}

		// Delivery attempts run asynchronously; accept and report fan-out
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		response := eventResponse{
			EventID:    ev.ID,
			Dispatched: dispatched,
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
