package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getflowetic/flowetic/internal/database"
	"github.com/getflowetic/flowetic/internal/webservice/metrics"
)

// recentEventLimit caps how many events the status endpoint returns.
const recentEventLimit = 5

// Status reports ingestion state for a client on GET /webhooks/{clientId}/status.
type Status struct {
	db dEventStore
}

// NewStatus creates a new Status handler.
func NewStatus(db dEventStore) *Status {
	return &Status{db: db}
}

// ServeHTTP handles status requests.
func (h *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	clientID := r.PathValue("clientId")

	if _, err := h.db.GetClient(r.Context(), clientID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Unknown client")
			return
		}
		slog.Error("Failed to resolve client for status", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to resolve client")
		return
	}

	count, err := h.db.EventCount(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to count events", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to read event status")
		return
	}

	events, err := h.db.RecentEvents(r.Context(), clientID, recentEventLimit)
	if err != nil {
		slog.Error("Failed to list recent events", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to read event status")
		return
	}

	resp := statusResponse{
		ClientID:     clientID,
		EventCount:   count,
		RecentEvents: make([]statusEvent, 0, len(events)),
	}
	for _, e := range events {
		resp.RecentEvents = append(resp.RecentEvents, statusEvent{
			ID:              e.ID,
			ReceivedAt:      e.ReceivedAt,
			Processed:       e.Processed,
			ProcessingError: e.ProcessingError,
			PreviewID:       e.PreviewID,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
