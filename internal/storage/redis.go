package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
)

// Redis backs KV with a Redis server. Values are plain byte strings with
// server-side TTLs, so entries expire even if this process dies.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
	timeout    time.Duration
	maxRetries int
}

// NewRedis connects to the server named by cfg.RedisURL. The URL is parsed
// eagerly so a malformed connection string fails at construction instead
// of on first use; connectivity itself is not probed here.
func NewRedis(cfg *Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries

	return &Redis{
		client:     redis.NewClient(opts),
		defaultTTL: cfg.DefaultTTL.Duration(),
		timeout:    cfg.Timeout.Duration(),
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Backend implements KV.
func (r *Redis) Backend() string { return TypeRedis }

// Get implements KV. Transport errors count in metrics but surface as
// absence: a Redis outage must not stall callers on the logging path.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe(TypeRedis, "get", time.Now())
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.IncStorageError(TypeRedis, "get")
		}
		return nil, nil
	}
	return val, nil
}

// Set implements KV.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe(TypeRedis, "set", time.Now())
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.IncStorageError(TypeRedis, "set")
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements KV.
func (r *Redis) Delete(ctx context.Context, key string) error {
	defer observe(TypeRedis, "delete", time.Now())
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		metrics.IncStorageError(TypeRedis, "delete")
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Exists implements KV. Like Get, transport errors read as absent.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	defer observe(TypeRedis, "exists", time.Now())
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		metrics.IncStorageError(TypeRedis, "exists")
		return false, nil
	}
	return n > 0, nil
}

// Close implements Closer.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks connectivity for health endpoints.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
