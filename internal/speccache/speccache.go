// Package speccache stores generated dashboard specifications in Redis,
// keyed by an opaque preview id with a bounded lifetime. Specs are
// derived artifacts: when one expires it can be regenerated from a fresh
// event, so Redis TTL semantics are exactly what retention needs.
package speccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no specification exists under a preview
// id, either because it never existed or because it expired.
var ErrNotFound = errors.New("specification not found")

const keyPrefix = "dashspec:"

// Config holds the configuration for connecting to Redis.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// TTL bounds how long a stored specification stays retrievable.
	TTL time.Duration
}

// Record is a stored specification plus its provenance.
type Record struct {
	dashboard.Specification

	ClientID   string          `json:"clientId"`
	EventID    string          `json:"eventId"`
	SampleData json.RawMessage `json:"sampleData,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache is a Redis-backed specification store.
type Cache struct {
	rdb redisClient
	ttl time.Duration
}

type options struct {
	newClient func(cfg Config) redisClient
}

// Options represents an optional function to override Cache default values.
type Options func(*options)

// Connect creates a cache against the configured Redis instance. The
// connection is validated with a ping.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Cache, error) {
	opts := options{
		newClient: func(cfg Config) redisClient {
			return redis.NewClient(&redis.Options{
				Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	rdb := opts.newClient(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("unable to ping Redis: %v", err)
	}

	slog.Info("Connected to Redis spec cache", "host", cfg.Host, "port", cfg.Port)
	return &Cache{rdb: rdb, ttl: cfg.TTL}, nil
}

// Save stores a record under previewID with the configured expiry.
func (c *Cache) Save(ctx context.Context, previewID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode specification: %v", err)
	}

	if err := c.rdb.Set(ctx, keyPrefix+previewID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store specification: %v", err)
	}
	return nil
}

// Get retrieves the record stored under previewID.
func (c *Cache) Get(ctx context.Context, previewID string) (Record, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+previewID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("preview %q: %w", previewID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to fetch specification: %v", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode stored specification: %v", err)
	}
	return rec, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
