package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/retry"
)

const (
	backendRedis = "redis"

	defaultRedisConnectTimeout = 5 * time.Second
)

// redisRetryConfig returns the retry policy for transient Redis failures.
func redisRetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		JitterFactor:   0.25,
	}
}

// isRetryableRedisError reports whether err is worth another attempt.
// Misses and caller cancellation are final.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, redis.Nil) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// redisCache implements Cache on a Redis server.
type redisCache struct {
	logger     observability.Logger
	metrics    *Metrics
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration

	hits   int64
	misses int64
}

func newRedisCache(cfg *config.AuthorizerCacheConfig, logger observability.Logger, metrics *Metrics) (*redisCache, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}

	client := redis.NewClient(opts)

	timeout := cfg.Redis.ConnectTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultRedisConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = config.DefaultRedisKeyPrefix
	}

	c := &redisCache{
		logger:     logger,
		metrics:    metrics,
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: cfg.TTL.Duration(),
	}

	logger.Info("redis cache initialized",
		observability.String("addr", opts.Addr),
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("defaultTTL", c.defaultTTL))

	return c, nil
}

func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

func (c *redisCache) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", backendRedis),
			attribute.String("cache.key", key),
		),
	)
}

func (c *redisCache) observe(op string, start time.Time) {
	c.metrics.operationDuration.WithLabelValues(backendRedis, op).Observe(time.Since(start).Seconds())
}

// do runs fn with the Redis retry policy.
func (c *redisCache) do(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(ctx, redisRetryConfig(), fn, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			c.logger.Debug("retrying redis "+op,
				observability.String("key", key),
				observability.Int("attempt", attempt),
				observability.Error(err))
		},
	})
}

func (c *redisCache) fail(span trace.Span, op, key string, err error) {
	c.metrics.errorsTotal.WithLabelValues(backendRedis, op).Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis "+op+" failed",
		observability.String("key", key),
		observability.Error(err))
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "Get", key)
	defer span.End()
	defer c.observe("get", time.Now())

	var result []byte
	err := c.do(ctx, "get", key, func() error {
		val, getErr := c.client.Get(ctx, c.resolveKey(key)).Bytes()
		if getErr != nil {
			return getErr
		}
		result = val
		return nil
	})

	switch {
	case err == nil:
		atomic.AddInt64(&c.hits, 1)
		c.metrics.hitsTotal.WithLabelValues(backendRedis).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return result, nil
	case errors.Is(err, redis.Nil):
		atomic.AddInt64(&c.misses, 1)
		c.metrics.missesTotal.WithLabelValues(backendRedis).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	default:
		c.fail(span, "get", key, err)
		return nil, err
	}
}

// Set stores a value in the cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", key)
	defer span.End()
	defer c.observe("set", time.Now())

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < 0 {
		// go-redis reads -1 as KEEPTTL.
		ttl = 0
	}

	err := c.do(ctx, "set", key, func() error {
		return c.client.Set(ctx, c.resolveKey(key), value, ttl).Err()
	})
	if err != nil {
		c.fail(span, "set", key, err)
		return err
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl))
	return nil
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "Delete", key)
	defer span.End()
	defer c.observe("delete", time.Now())

	err := c.do(ctx, "delete", key, func() error {
		return c.client.Del(ctx, c.resolveKey(key)).Err()
	})
	if err != nil {
		c.fail(span, "delete", key, err)
		return err
	}
	return nil
}

// Exists checks if a key exists in the cache.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", key)
	defer span.End()
	defer c.observe("exists", time.Now())

	var n int64
	err := c.do(ctx, "exists", key, func() error {
		var existsErr error
		n, existsErr = c.client.Exists(ctx, c.resolveKey(key)).Result()
		return existsErr
	})
	if err != nil {
		c.fail(span, "exists", key, err)
		return false, err
	}
	return n > 0, nil
}

// Ping checks connectivity to the Redis server.
func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.logger.Info("redis cache closing")
	return c.client.Close()
}

// Stats returns cache statistics.
func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
