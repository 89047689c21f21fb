package speccache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		pingErr error

		wantErr bool
	}{
		"Reachable instance connects": {},
		"Ping failure errors": {
			pingErr: errors.New("requested error"),
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rdb := &mockRedis{pingErr: tc.pingErr}
			cache, err := speccache.Connect(t.Context(), speccache.Config{Host: "localhost", Port: 6379},
				speccache.WithNewClient(func(speccache.Config) speccache.RedisClient { return rdb }))
			if tc.wantErr {
				require.Error(t, err, "Connect should fail")
				assert.True(t, rdb.closed, "Failed connect should release the client")
				return
			}
			require.NoError(t, err, "Connect should not fail")
			require.NoError(t, cache.Close(), "Close should not fail")
		})
	}
}

func TestSave(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		setErr error

		wantErr bool
	}{
		"Record stored": {},
		"Redis error":   {setErr: errors.New("requested error"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rdb := &mockRedis{setErr: tc.setErr}
			cache := connect(t, rdb, time.Hour)

			rec := speccache.Record{
				Specification: dashboard.Specification{TemplateID: "voice-analytics"},
				ClientID:      "client-1",
				EventID:       "evt_1",
				CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			}
			err := cache.Save(t.Context(), "preview-1", rec)
			if tc.wantErr {
				require.Error(t, err, "Save should fail")
				return
			}
			require.NoError(t, err, "Save should not fail")
			assert.Equal(t, "dashspec:preview-1", rdb.setKey, "Key should carry the prefix")
			assert.Equal(t, time.Hour, rdb.setTTL, "Configured TTL should be applied")

			var stored speccache.Record
			require.NoError(t, json.Unmarshal(rdb.setValue, &stored), "Stored value should be JSON")
			assert.Equal(t, rec, stored, "Stored record mismatch")
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	rec := speccache.Record{
		Specification: dashboard.Specification{TemplateID: "voice-analytics"},
		ClientID:      "client-1",
		EventID:       "evt_1",
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	encoded, err := json.Marshal(rec)
	require.NoError(t, err, "Setup: failed to encode record")

	tests := map[string]struct {
		value  string
		getErr error

		wantErr      bool
		wantNotFound bool
	}{
		"Stored record comes back": {value: string(encoded)},
		"Expired key maps to sentinel": {
			getErr:       redis.Nil,
			wantErr:      true,
			wantNotFound: true,
		},
		"Redis error": {
			getErr:  errors.New("requested error"),
			wantErr: true,
		},
		"Corrupt value errors": {
			value:   "not json",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rdb := &mockRedis{getValue: tc.value, getErr: tc.getErr}
			cache := connect(t, rdb, time.Hour)

			got, err := cache.Get(t.Context(), "preview-1")
			if tc.wantErr {
				require.Error(t, err, "Get should fail")
				if tc.wantNotFound {
					require.ErrorIs(t, err, speccache.ErrNotFound, "Missing record should map to the sentinel")
				} else {
					assert.NotErrorIs(t, err, speccache.ErrNotFound, "Infrastructure errors must not look like a miss")
				}
				return
			}
			require.NoError(t, err, "Get should not fail")
			assert.Equal(t, "dashspec:preview-1", rdb.getKey, "Key should carry the prefix")
			assert.Equal(t, rec, got, "Retrieved record mismatch")
		})
	}
}

func connect(t *testing.T, rdb *mockRedis, ttl time.Duration) *speccache.Cache {
	t.Helper()

	cache, err := speccache.Connect(t.Context(), speccache.Config{TTL: ttl},
		speccache.WithNewClient(func(speccache.Config) speccache.RedisClient { return rdb }))
	require.NoError(t, err, "Setup: Connect failed")
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

type mockRedis struct {
	pingErr error
	setErr  error
	getErr  error

	setKey   string
	setValue []byte
	setTTL   time.Duration

	getKey   string
	getValue string

	closed bool
}

func (m *mockRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.setKey = key
	m.setValue = value.([]byte)
	m.setTTL = expiration

	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(m.setErr)
	return cmd
}

func (m *mockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.getKey = key

	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	cmd.SetVal(m.getValue)
	return cmd
}

func (m *mockRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(m.pingErr)
	return cmd
}

func (m *mockRedis) Close() error {
	m.closed = true
	return nil
}
