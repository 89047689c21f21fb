// Package analysis calls an external OpenAI-compatible classification
// service to assist schema interpretation.
//
// The call only runs in the async phase, only when the deterministic
// inferencer reports low confidence, and its answer feeds the platform
// hint without gating the pipeline: a failed or nonsensical response is
// logged and ignored.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getflowetic/flowetic/internal/schema"
)

// Config holds the analysis service configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client talks to the classification service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type options struct {
	httpClient *http.Client
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// New creates a client for the configured service.
func New(cfg Config, args ...Options) *Client {
	opts := options{
		httpClient: &http.Client{},
	}

	for _, opt := range args {
		opt(&opts)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{cfg: cfg, httpClient: opts.httpClient}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You classify webhook payloads from automation and voice-agent platforms. " +
	"Answer with exactly one word: vapi, retell, or custom."

// ClassifyPlatform asks the service which platform most likely produced
// the payload. The request is bounded by the configured timeout; any
// failure is returned for the caller to log and move on.
func (c *Client) ClassifyPlatform(ctx context.Context, payload json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis request: %v", err)
	}

	url := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build analysis request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log line, not the whole stream.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode analysis response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("analysis response has no choices")
	}

	return normalizeAnswer(parsed.Choices[0].Message.Content), nil
}

// normalizeAnswer folds a free-form model answer onto the known platform
// hints, defaulting to custom.
func normalizeAnswer(answer string) string {
	lower := strings.ToLower(answer)
	switch {
	case strings.Contains(lower, schema.PlatformVapi):
		return schema.PlatformVapi
	case strings.Contains(lower, schema.PlatformRetell):
		return schema.PlatformRetell
	default:
		return schema.PlatformCustom
	}
}
