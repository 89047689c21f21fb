package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/signature"
	"github.com/getflowetic/flowetic/internal/speccache"
)

type dClientStore interface {
	GetClient(ctx context.Context, clientID string) (models.Client, error)
	CreateClient(ctx context.Context, c models.Client) error
	TouchClient(ctx context.Context, clientID string) error
}

type dEventStore interface {
	GetClient(ctx context.Context, clientID string) (models.Client, error)
	TryInsertEvent(ctx context.Context, event models.WebhookEvent) (inserted bool, err error)
	MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error
	EventCount(ctx context.Context, clientID string) (int64, error)
	RecentEvents(ctx context.Context, clientID string, limit int) ([]models.WebhookEvent, error)
}

type dSecretManager interface {
	Provision(ctx context.Context, clientID string) (secretID, secret string, err error)
	Rotate(ctx context.Context, secretID string) (string, error)
	Resolve(ctx context.Context, secretID string) (string, error)
}

type dVerifier interface {
	Verify(rawBody []byte, h signature.Headers, secret string) signature.Result
}

type dQueue interface {
	Enqueue(event models.WebhookEvent) bool
}

type dSpecStore interface {
	Get(ctx context.Context, previewID string) (speccache.Record, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

type statusEvent struct {
	ID              string    `json:"id"`
	ReceivedAt      time.Time `json:"receivedAt"`
	Processed       bool      `json:"processed"`
	ProcessingError string    `json:"processingError,omitempty"`
	PreviewID       string    `json:"previewId,omitempty"`
}

type statusResponse struct {
	ClientID     string        `json:"clientId"`
	EventCount   int64         `json:"eventCount"`
	RecentEvents []statusEvent `json:"recentEvents"`
}

type clientResponse struct {
	ClientID   string `json:"clientId"`
	Name       string `json:"name,omitempty"`
	WebhookURL string `json:"webhookUrl"`
	Secret     string `json:"secret"`
	Status     string `json:"status"`
}

// writeJSON writes v with the given HTTP status. Encoding failures are
// only loggable at this point; the status line is already committed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
