// Package models defines the records shared between the HTTP layer, the
// processing pipeline, and the database.
package models

import (
	"encoding/json"
	"time"
)

// Client is a registered webhook sender. The signing secret itself never
// lives on the record, only the vault id pointing at it.
type Client struct {
	ID              string
	Name            string
	WebhookSecretID string
	WebhookURL      string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Client lifecycle statuses.
const (
	ClientStatusConfigured = "webhook-configured"
)

// WebhookEvent is one verified delivery. It is created on first successful
// verification of an event id; Processed, ProcessingError, and PreviewID
// are the only fields written after creation, exactly once, by the async
// processing stage.
type WebhookEvent struct {
	ID                string
	ClientID          string
	RawPayload        json.RawMessage
	ReceivedAt        time.Time
	SignatureVerified bool
	Processed         bool
	ProcessingError   string
	PreviewID         string
}
