// Package vault provides encrypted at-rest storage for signing secrets.
//
// Values are sealed with AES-256-GCM before they reach the row store, so
// the database only ever sees nonce + ciphertext. The encryption key is
// supplied by configuration as 64 hex characters (32 bytes).
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// rowStore persists sealed secret rows keyed by a stable secret id.
type rowStore interface {
	GetSecretRow(ctx context.Context, id string) (nonce, ciphertext []byte, err error)
	InsertSecretRow(ctx context.Context, id string, nonce, ciphertext []byte) error
	UpdateSecretRow(ctx context.Context, id string, nonce, ciphertext []byte) error
}

// Vault seals and opens secrets against a row store.
type Vault struct {
	store rowStore
	aead  cipher.AEAD
}

// New creates a vault using the provided row store and hex-encoded
// 256-bit encryption key.
func New(store rowStore, hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %v", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 64 hex characters (32 bytes), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %v", err)
	}

	return &Vault{store: store, aead: aead}, nil
}

// Get fetches and decrypts the secret stored under id.
func (v *Vault) Get(ctx context.Context, id string) (string, error) {
	nonce, ciphertext, err := v.store.GetSecretRow(ctx, id)
	if err != nil {
		return "", err
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %q: %v", id, err)
	}
	return string(plaintext), nil
}

// Create seals value and inserts it under id.
func (v *Vault) Create(ctx context.Context, id, value string) error {
	nonce, ciphertext, err := v.seal(value)
	if err != nil {
		return err
	}
	return v.store.InsertSecretRow(ctx, id, nonce, ciphertext)
}

// Update seals value and replaces the row stored under id. The swap is a
// single row update, so readers see either the old or the new secret,
// never a mix.
func (v *Vault) Update(ctx context.Context, id, value string) error {
	nonce, ciphertext, err := v.seal(value)
	if err != nil {
		return err
	}
	return v.store.UpdateSecretRow(ctx, id, nonce, ciphertext)
}

func (v *Vault) seal(value string) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	return nonce, v.aead.Seal(nil, nonce, []byte(value), nil), nil
}
