package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// setupMiniRedis creates a miniredis server for testing.
func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func newTestRedisCache(t *testing.T, mr *miniredis.Miniredis, prefix string) *redisCache {
	t.Helper()

	c, err := newRedisCache(&config.AuthorizerCacheConfig{
		Type: config.CacheTypeRedis,
		TTL:  config.Duration(time.Hour),
		Redis: &config.RedisConfig{
			URL:       "redis://" + mr.Addr(),
			KeyPrefix: prefix,
			PoolSize:  4,
		},
	}, observability.NopLogger(), NewMetrics("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr, "gw:")
	ctx := context.Background()

	_, err := c.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "conn-1", []byte(`{"principalId":"me"}`), 0))
	assert.True(t, mr.Exists("gw:conn-1"))
	assert.Equal(t, time.Hour, mr.TTL("gw:conn-1"))

	value, err := c.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"principalId":"me"}`, string(value))

	ok, err := c.Exists(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "conn-1"))
	assert.False(t, mr.Exists("gw:conn-1"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisCache_NoExpiration(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr, "gw:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "conn-1", []byte("v"), NoExpiration))
	assert.True(t, mr.Exists("gw:conn-1"))
	assert.Zero(t, mr.TTL("gw:conn-1"))

	mr.FastForward(48 * time.Hour)
	value, err := c.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))
}

func TestRedisCache_DefaultPrefix(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr, "")

	require.NoError(t, c.Set(context.Background(), "conn-1", []byte("v"), time.Minute))
	assert.True(t, mr.Exists(config.DefaultRedisKeyPrefix+"conn-1"))
}

func TestRedisCache_Expiry(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr, "gw:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "conn-1", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_PingAndFailure(t *testing.T) {
	mr := setupMiniRedis(t)
	c := newTestRedisCache(t, mr, "gw:")
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	mr.SetError("server down")
	_, err := c.Get(ctx, "conn-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.Error(t, c.Ping(ctx))
}

func TestNewRedisCache_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.RedisConfig
		wantErr error
	}{
		{name: "missing redis section", cfg: nil, wantErr: ErrInvalidConfig},
		{name: "bad url", cfg: &config.RedisConfig{URL: "http://nope"}, wantErr: ErrInvalidConfig},
		{
			name:    "unreachable",
			cfg:     &config.RedisConfig{URL: "redis://127.0.0.1:1", ConnectTimeout: config.Duration(200 * time.Millisecond)},
			wantErr: ErrConnectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRedisCache(&config.AuthorizerCacheConfig{
				Type:  config.CacheTypeRedis,
				Redis: tt.cfg,
			}, observability.NopLogger(), NewMetrics("test"))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
