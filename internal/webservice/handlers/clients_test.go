package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getflowetic/flowetic/internal/database"
	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/secrets"
	"github.com/getflowetic/flowetic/internal/webservice/handlers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://ingest.example.com"

func decodeClientResponse(t *testing.T, body []byte) (resp struct {
	ClientID   string `json:"clientId"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhookUrl"`
	Secret     string `json:"secret"`
	Status     string `json:"status"`
}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, &resp), "Body should be JSON")
	return resp
}

func TestRegister(t *testing.T) {
	t.Parallel()

	secret, err := secrets.Generate()
	require.NoError(t, err, "Setup: failed to generate secret")

	tests := map[string]struct {
		body         string
		provisionErr error
		createErr    error

		wantCode    int
		wantErrPart string
	}{
		"Valid registration": {
			body:     `{"name":"Acme Voice"}`,
			wantCode: http.StatusCreated,
		},
		"Name with surrounding space": {
			body:     `{"name":"  Acme Voice  "}`,
			wantCode: http.StatusCreated,
		},
		"Missing name": {
			body:        `{}`,
			wantCode:    http.StatusBadRequest,
			wantErrPart: "Client name is required",
		},
		"Blank name": {
			body:        `{"name":"   "}`,
			wantCode:    http.StatusBadRequest,
			wantErrPart: "Client name is required",
		},
		"Invalid JSON": {
			body:        `{"name":`,
			wantCode:    http.StatusBadRequest,
			wantErrPart: "Invalid JSON body",
		},
		"Provisioning failure": {
			body:         `{"name":"Acme Voice"}`,
			provisionErr: errors.New("requested error"),
			wantCode:     http.StatusInternalServerError,
			wantErrPart:  "Failed to provision signing secret",
		},
		"Storage failure": {
			body:        `{"name":"Acme Voice"}`,
			createErr:   errors.New("requested error"),
			wantCode:    http.StatusInternalServerError,
			wantErrPart: "Failed to create client",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := &mockClientStore{createErr: tc.createErr}
			sm := &mockSecretManager{secret: secret, provisionErr: tc.provisionErr}
			h := handlers.NewClients(db, sm, testBaseURL)

			rec := httptest.NewRecorder()
			h.Register(rec, httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(tc.body)))

			require.Equal(t, tc.wantCode, rec.Code, "Status code mismatch: %s", rec.Body.String())
			if tc.wantErrPart != "" {
				assert.Contains(t, rec.Body.String(), tc.wantErrPart, "Error message mismatch")
				assert.Nil(t, db.created, "Failed registrations must not persist a client")
				return
			}

			resp := decodeClientResponse(t, rec.Body.Bytes())
			require.NoError(t, uuid.Validate(resp.ClientID), "Client id should be a UUID")
			assert.Equal(t, "Acme Voice", resp.Name, "Name should be trimmed and echoed")
			assert.Equal(t, testBaseURL+"/webhooks/"+resp.ClientID, resp.WebhookURL, "Webhook URL mismatch")
			assert.Equal(t, secret, resp.Secret, "Registration returns the plaintext secret exactly once")
			assert.Equal(t, models.ClientStatusConfigured, resp.Status, "New clients come up configured")

			require.NotNil(t, db.created, "Client should be persisted")
			assert.Equal(t, resp.ClientID, db.created.ID, "Persisted id mismatch")
			assert.Equal(t, "webhook_secret_"+resp.ClientID, db.created.WebhookSecretID, "Secret id should derive from the client id")
		})
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	secret, err := secrets.Generate()
	require.NoError(t, err, "Setup: failed to generate secret")

	client := models.Client{
		ID:              "client-1",
		Name:            "Acme Voice",
		WebhookSecretID: "webhook_secret_client-1",
		WebhookURL:      testBaseURL + "/webhooks/client-1",
		Status:          models.ClientStatusConfigured,
	}

	tests := map[string]struct {
		getClientErr error
		resolveErr   error

		wantCode    int
		wantErrPart string
	}{
		"Known client": {wantCode: http.StatusOK},
		"Unknown client": {
			getClientErr: database.ErrNotFound,
			wantCode:     http.StatusNotFound,
			wantErrPart:  "Unknown client",
		},
		"Secret resolution failure": {
			resolveErr:  errors.New("requested error"),
			wantCode:    http.StatusInternalServerError,
			wantErrPart: "Webhook secret not configured",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := &mockClientStore{client: client, getClientErr: tc.getClientErr}
			sm := &mockSecretManager{secret: secret, resolveErr: tc.resolveErr}
			h := handlers.NewClients(db, sm, testBaseURL)

			req := httptest.NewRequest(http.MethodGet, "/clients/client-1/webhook-config", nil)
			req.SetPathValue("clientId", "client-1")
			rec := httptest.NewRecorder()
			h.Config(rec, req)

			require.Equal(t, tc.wantCode, rec.Code, "Status code mismatch: %s", rec.Body.String())
			if tc.wantErrPart != "" {
				assert.Contains(t, rec.Body.String(), tc.wantErrPart, "Error message mismatch")
				return
			}

			resp := decodeClientResponse(t, rec.Body.Bytes())
			assert.Equal(t, client.WebhookURL, resp.WebhookURL, "Webhook URL mismatch")
			assert.Equal(t, secrets.Mask(secret), resp.Secret, "Reads must return the masked secret")
			assert.NotEqual(t, secret, resp.Secret, "Plaintext secret must never come back on reads")
		})
	}
}

func TestRotateSecret(t *testing.T) {
	t.Parallel()

	rotated, err := secrets.Generate()
	require.NoError(t, err, "Setup: failed to generate secret")

	client := models.Client{
		ID:              "client-1",
		WebhookSecretID: "webhook_secret_client-1",
		Status:          models.ClientStatusConfigured,
	}

	tests := map[string]struct {
		getClientErr error
		rotateErr    error
		touchErr     error

		wantCode    int
		wantErrPart string
	}{
		"Rotation hands out the new secret": {wantCode: http.StatusOK},
		"Unknown client": {
			getClientErr: database.ErrNotFound,
			wantCode:     http.StatusNotFound,
			wantErrPart:  "Unknown client",
		},
		"Rotation failure": {
			rotateErr:   errors.New("requested error"),
			wantCode:    http.StatusInternalServerError,
			wantErrPart: "Failed to rotate signing secret",
		},
		"Touch failure does not fail the rotation": {
			touchErr: errors.New("requested error"),
			wantCode: http.StatusOK,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := &mockClientStore{client: client, getClientErr: tc.getClientErr, touchErr: tc.touchErr}
			sm := &mockSecretManager{rotated: rotated, rotateErr: tc.rotateErr}
			h := handlers.NewClients(db, sm, testBaseURL)

			req := httptest.NewRequest(http.MethodPost, "/clients/client-1/rotate-secret", nil)
			req.SetPathValue("clientId", "client-1")
			rec := httptest.NewRecorder()
			h.RotateSecret(rec, req)

			require.Equal(t, tc.wantCode, rec.Code, "Status code mismatch: %s", rec.Body.String())
			if tc.wantErrPart != "" {
				assert.Contains(t, rec.Body.String(), tc.wantErrPart, "Error message mismatch")
				return
			}

			resp := decodeClientResponse(t, rec.Body.Bytes())
			assert.Equal(t, rotated, resp.Secret, "Rotation returns the new plaintext secret")
			if tc.touchErr == nil {
				assert.True(t, db.touched, "Rotation should bump the client record")
			}
		})
	}
}
