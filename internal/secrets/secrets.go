// Package secrets manages per-client webhook signing secrets.
//
// Secrets are 256-bit random values, base64-encoded and tagged with the
// "whsec_" prefix for identification. Plaintext secrets are only handed
// out at generation and rotation time; every other retrieval path returns
// a masked form.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix tags every signing secret for identification.
const Prefix = "whsec_"

// keyLen is the decoded secret length in bytes (256-bit HMAC key).
const keyLen = 32

// maskLen is how many leading characters survive masking.
const maskLen = 15

// ErrInvalidFormat is returned when a secret does not carry the expected
// prefix or does not decode to a 256-bit key.
var ErrInvalidFormat = errors.New("invalid secret format")

// Vault is the secret-at-rest collaborator. Implementations are expected
// to store values encrypted; the ids are stable across rotations.
type Vault interface {
	Get(ctx context.Context, id string) (string, error)
	Create(ctx context.Context, id, value string) error
	Update(ctx context.Context, id, value string) error
}

// Manager provisions, resolves, and rotates client signing secrets
// through a vault collaborator.
type Manager struct {
	vault Vault
}

// NewManager creates a secret manager backed by the given vault.
func NewManager(vault Vault) *Manager {
	return &Manager{vault: vault}
}

// Generate produces a new signing secret from a cryptographically secure
// random source.
func Generate() (string, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %v", err)
	}

	return Prefix + base64.StdEncoding.EncodeToString(key), nil
}

// IsValidFormat reports whether secret carries the expected prefix and
// decodes to exactly 32 bytes.
func IsValidFormat(secret string) bool {
	_, err := Decode(secret)
	return err == nil
}

// Decode strips the prefix and base64-decodes the secret into key bytes.
func Decode(secret string) ([]byte, error) {
	encoded, hasPrefix := strings.CutPrefix(secret, Prefix)
	if !hasPrefix || encoded == "" {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidFormat, Prefix)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidFormat, len(key), keyLen)
	}
	return key, nil
}

// Mask returns the display form of a secret: a fixed-length prefix
// followed by an ellipsis. Safe to log and to return from read paths.
func Mask(secret string) string {
	if len(secret) <= maskLen {
		return secret + "..."
	}
	return secret[:maskLen] + "..."
}

// Provision generates a fresh secret and stores it in the vault under a
// stable id derived from the client. The plaintext secret is returned to
// the caller exactly once.
func (m *Manager) Provision(ctx context.Context, clientID string) (secretID, secret string, err error) {
	secret, err = Generate()
	if err != nil {
		return "", "", err
	}

	secretID = SecretID(clientID)
	if err := m.vault.Create(ctx, secretID, secret); err != nil {
		return "", "", fmt.Errorf("failed to store secret in vault: %w", err)
	}

	return secretID, secret, nil
}

// Rotate atomically replaces the stored secret. The id stays stable so
// client records never need updating; the old secret stops verifying the
// moment the vault write lands. There is no grace period.
func (m *Manager) Rotate(ctx context.Context, secretID string) (string, error) {
	secret, err := Generate()
	if err != nil {
		return "", err
	}

	if err := m.vault.Update(ctx, secretID, secret); err != nil {
		return "", fmt.Errorf("failed to rotate secret: %w", err)
	}

	return secret, nil
}

// Resolve fetches the current plaintext secret for signature verification.
func (m *Manager) Resolve(ctx context.Context, secretID string) (string, error) {
	secret, err := m.vault.Get(ctx, secretID)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// SecretID returns the stable vault id for a client's signing secret.
func SecretID(clientID string) string {
	return "webhook_secret_" + clientID
}
