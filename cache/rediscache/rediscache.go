// Package rediscache implements consilium.Cache on Redis. TTL enforcement is
// delegated to Redis key expiry.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klinio/consilium"
)

// keyPrefix namespaces consult payloads within a shared Redis instance.
const keyPrefix = "consilium:consult:"

// Cache is a Redis-backed result cache.
type Cache struct {
	rdb *redis.Client
}

// New creates a Cache over an existing Redis client. The caller owns the
// client's lifecycle.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Open connects to Redis at addr (host:port) and returns a Cache over the
// new connection.
func Open(addr, password string, db int) *Cache {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// Probe fetches the payload for key. A missing key is a miss, not an error.
func (c *Cache) Probe(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Store saves payload under key with ttl.
func (c *Cache) Store(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

// Ping reports Redis reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

var _ consilium.Cache = (*Cache)(nil)
