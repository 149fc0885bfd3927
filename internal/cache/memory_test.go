package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

func newTestMemoryCache(t *testing.T, maxEntries int, ttl time.Duration) *memoryCache {
	t.Helper()

	c := newMemoryCache(&config.AuthorizerCacheConfig{
		Type:       config.CacheTypeMemory,
		MaxEntries: maxEntries,
		TTL:        config.Duration(ttl),
	}, observability.NopLogger(), NewMetrics("test"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "conn-1", []byte("entry"), 0))

	value, err := c.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("entry"), value)

	ok, err := c.Exists(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Set(ctx, "conn-1", []byte("updated"), 0))
	value, err = c.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), value)

	require.NoError(t, c.Delete(ctx, "conn-1"))
	ok, err = c.Exists(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "never-set"))

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.Size)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), NoExpiration))

	time.Sleep(50 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ok, err := c.Exists(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_Cleanup(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("v"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "b", []byte("v"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "c", []byte("v"), time.Hour))

	time.Sleep(10 * time.Millisecond)
	c.cleanup()

	assert.Equal(t, int64(1), c.Stats().Size)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 2, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryCache_NeverEvictsNonExpiringEntries(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 2, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "pinned-1", []byte("1"), NoExpiration))
	require.NoError(t, c.Set(ctx, "expiring", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "pinned-2", []byte("3"), NoExpiration))

	_, err := c.Get(ctx, "expiring")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Over capacity with only pinned entries left: nothing is dropped.
	require.NoError(t, c.Set(ctx, "pinned-3", []byte("4"), NoExpiration))
	for _, key := range []string{"pinned-1", "pinned-2", "pinned-3"} {
		_, err := c.Get(ctx, key)
		assert.NoError(t, err, key)
	}
	assert.Equal(t, int64(3), c.Stats().Size)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 1000, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("conn-%d", i)
			_ = c.Set(ctx, key, []byte(key), 0)
			_, _ = c.Get(ctx, key)
			_ = c.Delete(ctx, key)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, c.Stats().Size)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestMemoryCache(t, 10, time.Hour)
	require.NoError(t, c.Set(context.Background(), "a", []byte("v"), 0))

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Zero(t, c.Stats().Size)
	assert.NoError(t, c.Ping(context.Background()))
}
