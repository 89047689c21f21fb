package handlers_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/secrets"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/stretchr/testify/require"
)

// sign produces the signature header value a platform would send for the
// given delivery.
func sign(t *testing.T, eventID string, ts time.Time, body []byte, secret string) string {
	t.Helper()

	key, err := secrets.Decode(secret)
	require.NoError(t, err, "Setup: failed to decode secret")

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%d.%s", eventID, ts.Unix(), body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeaders(t *testing.T, eventID string, ts time.Time, body []byte, secret string) http.Header {
	t.Helper()

	h := http.Header{}
	h.Set("x-event-id", eventID)
	h.Set("x-event-timestamp", strconv.FormatInt(ts.Unix(), 10))
	h.Set("x-event-signature", sign(t, eventID, ts, body, secret))
	return h
}

type mockEventStore struct {
	client       models.Client
	getClientErr error

	inserted  bool
	insertErr error

	markErr    error
	marked     bool
	markedErr  string
	markedPrev string

	eventCount    int64
	eventCountErr error
	recentEvents  []models.WebhookEvent
	recentErr     error

	insertedEvents []models.WebhookEvent
}

func (m *mockEventStore) GetClient(ctx context.Context, clientID string) (models.Client, error) {
	if m.getClientErr != nil {
		return models.Client{}, m.getClientErr
	}
	return m.client, nil
}

func (m *mockEventStore) TryInsertEvent(ctx context.Context, event models.WebhookEvent) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	m.insertedEvents = append(m.insertedEvents, event)
	return m.inserted, nil
}

func (m *mockEventStore) MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = true
	m.markedPrev = previewID
	m.markedErr = procErr
	return nil
}

func (m *mockEventStore) EventCount(ctx context.Context, clientID string) (int64, error) {
	return m.eventCount, m.eventCountErr
}

func (m *mockEventStore) RecentEvents(ctx context.Context, clientID string, limit int) ([]models.WebhookEvent, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	if len(m.recentEvents) > limit {
		return m.recentEvents[:limit], nil
	}
	return m.recentEvents, nil
}

type mockClientStore struct {
	client       models.Client
	getClientErr error

	createErr error
	created   *models.Client

	touchErr error
	touched  bool
}

func (m *mockClientStore) GetClient(ctx context.Context, clientID string) (models.Client, error) {
	if m.getClientErr != nil {
		return models.Client{}, m.getClientErr
	}
	return m.client, nil
}

func (m *mockClientStore) CreateClient(ctx context.Context, c models.Client) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = &c
	return nil
}

func (m *mockClientStore) TouchClient(ctx context.Context, clientID string) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.touched = true
	return nil
}

type mockSecretManager struct {
	secret       string
	provisionErr error
	rotateErr    error
	resolveErr   error

	rotated string
}

func (m *mockSecretManager) Provision(ctx context.Context, clientID string) (string, string, error) {
	if m.provisionErr != nil {
		return "", "", m.provisionErr
	}
	return "webhook_secret_" + clientID, m.secret, nil
}

func (m *mockSecretManager) Rotate(ctx context.Context, secretID string) (string, error) {
	if m.rotateErr != nil {
		return "", m.rotateErr
	}
	return m.rotated, nil
}

func (m *mockSecretManager) Resolve(ctx context.Context, secretID string) (string, error) {
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	return m.secret, nil
}

type mockQueue struct {
	full bool

	enqueued []models.WebhookEvent
}

func (m *mockQueue) Enqueue(event models.WebhookEvent) bool {
	if m.full {
		return false
	}
	m.enqueued = append(m.enqueued, event)
	return true
}

type mockSpecStore struct {
	rec    speccache.Record
	getErr error
}

func (m *mockSpecStore) Get(ctx context.Context, previewID string) (speccache.Record, error) {
	if m.getErr != nil {
		return speccache.Record{}, m.getErr
	}
	return m.rec, nil
}
