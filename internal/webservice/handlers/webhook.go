// Package handlers provides HTTP handlers for the server.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/getflowetic/flowetic/internal/database"
	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/signature"
	"github.com/getflowetic/flowetic/internal/webservice/metrics"
	"github.com/google/uuid"
)

// Webhook handles inbound webhook deliveries on POST /webhooks/{clientId}.
//
// The handler acknowledges before processing: it verifies the signature,
// stores the event, hands it to the queue, and answers. Derivation runs
// in the workers with their own context, so a client disconnect after the
// ack cannot cancel it.
type Webhook struct {
	db       dEventStore
	secrets  dSecretManager
	verifier dVerifier
	queue    dQueue
	outcomes *metrics.Outcomes

	maxBodyBytes int64
}

// NewWebhook creates a new Webhook handler.
func NewWebhook(db dEventStore, secrets dSecretManager, verifier dVerifier, queue dQueue, outcomes *metrics.Outcomes, maxBodyBytes int64) *Webhook {
	return &Webhook{
		db:       db,
		secrets:  secrets,
		verifier: verifier,
		queue:    queue,
		outcomes: outcomes,

		maxBodyBytes: maxBodyBytes,
	}
}

// ServeHTTP handles incoming webhook deliveries.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	h.outcomes.Received()

	reqID := uuid.New().String()
	clientID := r.PathValue("clientId")
	log := slog.With("req_id", reqID, "client_id", clientID)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("Failed to read webhook body", "status", metrics.OutcomeError, "err", err)
		h.outcomes.Record(metrics.OutcomeError)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	client, err := h.db.GetClient(r.Context(), clientID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("Webhook for unknown client", "status", metrics.OutcomeError)
		h.outcomes.Record(metrics.OutcomeError)
		writeError(w, http.StatusNotFound, "Unknown client")
		return
	}
	if err != nil {
		log.Error("Failed to resolve client", "status", metrics.OutcomeError, "err", err)
		h.outcomes.Record(metrics.OutcomeError)
		writeError(w, http.StatusInternalServerError, "Failed to resolve client")
		return
	}

	secret, err := h.secrets.Resolve(r.Context(), client.WebhookSecretID)
	if err != nil {
		log.Error("Failed to resolve signing secret", "status", metrics.OutcomeError, "err", err)
		h.outcomes.Record(metrics.OutcomeError)
		writeError(w, http.StatusInternalServerError, "Webhook secret not configured")
		return
	}

	headers := signature.ExtractHeaders(r)
	result := h.verifier.Verify(rawBody, headers, secret)
	if !result.Valid {
		log.Warn("Webhook signature rejected", "status", metrics.OutcomeRejected, "reason", result.Reason)
		h.outcomes.Record(metrics.OutcomeRejected)
		writeError(w, http.StatusUnauthorized, "Invalid signature: "+result.Reason)
		return
	}

	event := models.WebhookEvent{
		ID:                result.EventID,
		ClientID:          clientID,
		RawPayload:        rawBody,
		ReceivedAt:        time.Now(),
		SignatureVerified: true,
	}

	inserted, err := h.db.TryInsertEvent(r.Context(), event)
	if err != nil {
		log.Error("Failed to store webhook event", "status", metrics.OutcomeError, "event_id", event.ID, "err", err)
		h.outcomes.Record(metrics.OutcomeError)
		writeError(w, http.StatusInternalServerError, "Failed to store event, please retry")
		return
	}
	if !inserted {
		log.Info("Duplicate webhook delivery", "status", metrics.OutcomeDuplicate, "event_id", event.ID)
		h.outcomes.Record(metrics.OutcomeDuplicate)
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: event.ID})
		return
	}

	if !h.queue.Enqueue(event) {
		// The event is stored and acked either way; a saturated queue only
		// costs it the async derivation, recorded for later inspection.
		log.Warn("Processing queue full, event stored unprocessed", "event_id", event.ID)
		if err := h.db.MarkEventProcessed(r.Context(), clientID, event.ID, "", "processing queue full"); err != nil {
			log.Error("Failed to record queue saturation", "event_id", event.ID, "err", err)
		}
	}

	log.Info("Webhook stored", "status", metrics.OutcomeValidated, "event_id", event.ID)
	h.outcomes.Record(metrics.OutcomeValidated)
	writeJSON(w, http.StatusOK, ackResponse{Status: "stored", EventID: event.ID})
}
