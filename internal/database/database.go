// Package database provides the PostgreSQL storage layer for the service:
// idempotent webhook event persistence, the client registry, and the
// sealed secret rows backing the vault.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/getflowetic/flowetic/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested client or secret row does not exist.
var ErrNotFound = errors.New("not found")

// opTimeout bounds every single statement issued through the manager.
const opTimeout = 10 * time.Second

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL connection pool.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// Connect creates a database manager with a PostgreSQL connection pool.
// The connection is validated with a ping, but it is not maintained.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// TryInsertEvent inserts a verified webhook event if and only if no event
// with the same (clientID, eventID) pair exists. The insert-if-absent is
// atomic: it rides on the table's primary key, so two concurrent
// deliveries of the same event cannot both report inserted.
//
// A false return with nil error means the event was already stored; the
// caller must treat that as success.
func (db Manager) TryInsertEvent(ctx context.Context, event models.WebhookEvent) (inserted bool, err error) {
	if db.dbpool == nil {
		return false, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := db.dbpool.Exec(ctx, `
		INSERT INTO webhook_events (id, client_id, raw_payload, received_at, signature_verified, processed)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (client_id, id) DO NOTHING`,
		event.ID,
		event.ClientID,
		event.RawPayload,
		event.ReceivedAt,
		event.SignatureVerified,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %v", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkEventProcessed records the outcome of the async processing stage.
// An empty procErr marks success; a non-empty one records the failure for
// later inspection. Either way the event is written exactly once.
func (db Manager) MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := db.dbpool.Exec(ctx, `
		UPDATE webhook_events
		SET processed = TRUE,
		    processing_error = NULLIF($3, ''),
		    preview_id = NULLIF($4, '')::uuid
		WHERE client_id = $1 AND id = $2`,
		clientID, eventID, procErr, previewID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %q for client %q: %w", eventID, clientID, ErrNotFound)
	}
	return nil
}

// EventCount returns the number of stored events for a client.
func (db Manager) EventCount(ctx context.Context, clientID string) (int64, error) {
	if db.dbpool == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	err := db.dbpool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE client_id = $1`, clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %v", err)
	}
	return count, nil
}

// RecentEvents returns the most recently received events for a client,
// newest first.
func (db Manager) RecentEvents(ctx context.Context, clientID string, limit int) ([]models.WebhookEvent, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := db.dbpool.Query(ctx, `
		SELECT id, client_id, raw_payload, received_at, signature_verified,
		       processed, COALESCE(processing_error, ''), COALESCE(preview_id::text, '')
		FROM webhook_events
		WHERE client_id = $1
		ORDER BY received_at DESC
		LIMIT $2`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %v", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		if err := rows.Scan(&e.ID, &e.ClientID, &e.RawPayload, &e.ReceivedAt,
			&e.SignatureVerified, &e.Processed, &e.ProcessingError, &e.PreviewID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %v", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event rows: %v", err)
	}

	return events, nil
}

// GetClient looks up a registered client by id.
func (db Manager) GetClient(ctx context.Context, clientID string) (models.Client, error) {
	if db.dbpool == nil {
		return models.Client{}, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var c models.Client
	err := db.dbpool.QueryRow(ctx, `
		SELECT id, name, COALESCE(webhook_secret_id, ''), COALESCE(webhook_url, ''),
		       status, created_at, updated_at
		FROM clients WHERE id = $1`,
		clientID,
	).Scan(&c.ID, &c.Name, &c.WebhookSecretID, &c.WebhookURL, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return models.Client{}, fmt.Errorf("failed to look up client: %v", err)
	}

	return c, nil
}

// CreateClient inserts a new client record.
func (db Manager) CreateClient(ctx context.Context, c models.Client) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := db.dbpool.Exec(ctx, `
		INSERT INTO clients (id, name, webhook_secret_id, webhook_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		c.ID, c.Name, c.WebhookSecretID, c.WebhookURL, c.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %v", err)
	}
	return nil
}

// TouchClient bumps a client's updated_at, used after secret rotation.
func (db Manager) TouchClient(ctx context.Context, clientID string) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := db.dbpool.Exec(ctx,
		`UPDATE clients SET updated_at = NOW() WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to update client: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	return nil
}

// GetSecretRow fetches the sealed secret stored under id.
func (db Manager) GetSecretRow(ctx context.Context, id string) (nonce, ciphertext []byte, err error) {
	if db.dbpool == nil {
		return nil, nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err = db.dbpool.QueryRow(ctx,
		`SELECT nonce, ciphertext FROM vault_secrets WHERE id = $1`, id,
	).Scan(&nonce, &ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("secret %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch secret row: %v", err)
	}

	return nonce, ciphertext, nil
}

// InsertSecretRow stores a sealed secret under id.
func (db Manager) InsertSecretRow(ctx context.Context, id string, nonce, ciphertext []byte) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := db.dbpool.Exec(ctx, `
		INSERT INTO vault_secrets (id, nonce, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())`,
		id, nonce, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("failed to insert secret row: %v", err)
	}
	return nil
}

// UpdateSecretRow replaces the sealed secret stored under id. The update
// is a single statement, so rotation is atomic: verifiers resolve either
// the old value or the new one.
func (db Manager) UpdateSecretRow(ctx context.Context, id string, nonce, ciphertext []byte) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := db.dbpool.Exec(ctx, `
		UPDATE vault_secrets SET nonce = $2, ciphertext = $3, updated_at = NOW()
		WHERE id = $1`,
		id, nonce, ciphertext,
	)
	if err != nil {
		return fmt.Errorf("failed to update secret row: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("secret %q: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(opTimeout):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
