package authorizer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avawsgw/internal/cache"
	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/events"
)

func TestCacheStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := &Entry{
		Identity:   events.Identity{SourceIP: "127.0.0.1"},
		Authorizer: map[string]any{"principalId": "me"},
	}
	require.NoError(t, store.Set(ctx, "conn-1", entry))

	got, ok, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	require.NoError(t, store.Delete(ctx, "conn-1"))
	_, ok, err = store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStore_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := cache.New(&config.AuthorizerCacheConfig{
		Type:  config.CacheTypeRedis,
		Redis: &config.RedisConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "auth:"},
	}, nil)
	require.NoError(t, err)
	defer c.Close()

	store := NewStore(c, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "conn-1", &Entry{Authorizer: map[string]any{"principalId": "me"}}))
	assert.Equal(t, 30*time.Minute, mr.TTL("auth:conn-1"))

	got, ok, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "me", got.Authorizer["principalId"])

	// Without a ttl the grant lives until its connection is removed.
	require.NoError(t, NewStore(c, 0).Set(ctx, "conn-2", &Entry{}))
	assert.True(t, mr.Exists("auth:conn-2"))
	assert.Zero(t, mr.TTL("auth:conn-2"))
}

func TestCacheStore_CorruptEntry(t *testing.T) {
	t.Parallel()

	c, err := cache.New(&config.AuthorizerCacheConfig{Type: config.CacheTypeMemory}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "conn-1", []byte("not json"), time.Minute))

	_, _, err = NewStore(c, time.Minute).Get(context.Background(), "conn-1")
	assert.Error(t, err)
}
