//go:build integration

package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/domain/providers"
	redisclient "github.com/zatekoja/telecare/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telecare/pkg/config"
)

func newTestAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Skipping integration test: TEST_REDIS_HOST not set")
	}
	port := 6379
	if p, err := strconv.Atoi(os.Getenv("TEST_REDIS_PORT")); err == nil {
		port = p
	}

	client, err := redisclient.NewClient(context.Background(), &config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err, "Failed to create redis client")
	t.Cleanup(func() { client.Close() })
	return NewRedisAdapter(client, "test:"+uuid.NewString()+":")
}

func TestRedisAdapterRoundTripIntegration(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	key := providers.ScheduledCallCacheKey("call-1")

	_, err := adapter.Get(ctx, key)
	assert.ErrorIs(t, err, providers.ErrCacheMiss)

	require.NoError(t, adapter.Set(ctx, key, []byte(`{"id":"call-1"}`), time.Minute))
	got, err := adapter.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"call-1"}`, string(got))

	require.NoError(t, adapter.Delete(ctx, key))
	_, err = adapter.Get(ctx, key)
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}

func TestRedisAdapterExpiryIntegration(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	require.NoError(t, adapter.Set(ctx, "short", []byte("x"), 50*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := adapter.Get(ctx, "short")
		return err == providers.ErrCacheMiss
	}, 2*time.Second, 20*time.Millisecond)
}
