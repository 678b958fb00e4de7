// Package cache implements the language-scoped query cache on Redis:
// exact lookups by deterministic key, fuzzy reuse via a bounded
// recent-query index, and the double-write policy that lets non-English
// requests seed the English cache.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
)

// recentListKey is where the recent-query index lives.
const recentListKey = "q:recent"

// RedisClient adapts go-redis to the capability.Cache contract.
type RedisClient struct {
	client *redis.Client
	logger *logrus.Logger
}

// RedisOptions configures the connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis-backed cache. The connection is lazy;
// callers should Ping to verify reachability at startup.
func NewRedisClient(opts RedisOptions, logger *logrus.Logger) *RedisClient {
	if logger == nil {
		logger = logrus.New()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisClient{client: rdb, logger: logger}
}

// Get returns the raw value for key, or capability.ErrCacheMiss.
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, capability.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores value under key with a TTL.
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return r.client.Set(ctx, key, value, time.Duration(ttlSeconds)*time.Second).Err()
}

// PushRecent prepends an entry to the recent-query list and trims it to
// maxLen. Concurrent prepends may interleave; fuzzy matching treats the list
// as an unordered bounded set, so that is acceptable.
func (r *RedisClient) PushRecent(ctx context.Context, entry string, maxLen int) error {
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, recentListKey, entry)
	pipe.LTrim(ctx, recentListKey, 0, int64(maxLen-1))
	_, err := pipe.Exec(ctx)
	return err
}

// ReadRecent returns up to n recent entries, most recent first.
func (r *RedisClient) ReadRecent(ctx context.Context, n int) ([]string, error) {
	return r.client.LRange(ctx, recentListKey, 0, int64(n-1)).Result()
}

// Ping verifies connectivity.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
