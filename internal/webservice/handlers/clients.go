package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getflowetic/flowetic/internal/database"
	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/secrets"
	"github.com/getflowetic/flowetic/internal/webservice/metrics"
	"github.com/google/uuid"
)

// Clients handles client onboarding and secret lifecycle:
// POST /clients, GET /clients/{clientId}/webhook-config, and
// POST /clients/{clientId}/rotate-secret.
type Clients struct {
	db      dClientStore
	secrets dSecretManager

	publicBaseURL string
}

// NewClients creates a new Clients handler. publicBaseURL is the
// externally reachable base under which webhook URLs are handed out.
func NewClients(db dClientStore, secrets dSecretManager, publicBaseURL string) *Clients {
	return &Clients{
		db:      db,
		secrets: secrets,

		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

type createClientRequest struct {
	Name string `json:"name"`
}

// Register handles POST /clients. The plaintext signing secret appears in
// this response and nowhere else; every later read returns it masked.
func (h *Clients) Register(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}

	clientID := uuid.NewString()
	secretID, secret, err := h.secrets.Provision(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to provision signing secret", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to provision signing secret")
		return
	}

	client := models.Client{
		ID:              clientID,
		Name:            req.Name,
		WebhookSecretID: secretID,
		WebhookURL:      h.webhookURL(clientID),
		Status:          models.ClientStatusConfigured,
	}
	if err := h.db.CreateClient(r.Context(), client); err != nil {
		slog.Error("Failed to create client", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create client")
		return
	}

	slog.Info("Client registered", "client_id", clientID, "name", req.Name)
	writeJSON(w, http.StatusCreated, clientResponse{
		ClientID:   clientID,
		Name:       client.Name,
		WebhookURL: client.WebhookURL,
		Secret:     secret,
		Status:     client.Status,
	})
}

// Config handles GET /clients/{clientId}/webhook-config.
func (h *Clients) Config(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	clientID := r.PathValue("clientId")

	client, err := h.db.GetClient(r.Context(), clientID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Unknown client")
		return
	}
	if err != nil {
		slog.Error("Failed to resolve client", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to resolve client")
		return
	}

	secret, err := h.secrets.Resolve(r.Context(), client.WebhookSecretID)
	if err != nil {
		slog.Error("Failed to resolve signing secret", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Webhook secret not configured")
		return
	}

	writeJSON(w, http.StatusOK, clientResponse{
		ClientID:   client.ID,
		Name:       client.Name,
		WebhookURL: client.WebhookURL,
		Secret:     secrets.Mask(secret),
		Status:     client.Status,
	})
}

// RotateSecret handles POST /clients/{clientId}/rotate-secret. The secret
// id stays stable; the old value stops verifying as soon as the vault
// write lands.
func (h *Clients) RotateSecret(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	clientID := r.PathValue("clientId")

	client, err := h.db.GetClient(r.Context(), clientID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Unknown client")
		return
	}
	if err != nil {
		slog.Error("Failed to resolve client", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to resolve client")
		return
	}

	secret, err := h.secrets.Rotate(r.Context(), client.WebhookSecretID)
	if err != nil {
		slog.Error("Failed to rotate signing secret", "client_id", clientID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to rotate signing secret")
		return
	}

	if err := h.db.TouchClient(r.Context(), clientID); err != nil {
		slog.Warn("Failed to bump client after rotation", "client_id", clientID, "err", err)
	}

	slog.Info("Signing secret rotated", "client_id", clientID)
	writeJSON(w, http.StatusOK, clientResponse{
		ClientID:   client.ID,
		Name:       client.Name,
		WebhookURL: client.WebhookURL,
		Secret:     secret,
		Status:     client.Status,
	})
}

func (h *Clients) webhookURL(clientID string) string {
	return h.publicBaseURL + "/webhooks/" + clientID
}
