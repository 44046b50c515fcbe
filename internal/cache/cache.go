package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// PageCache provides Redis-backed caching of raw detail page bodies.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at the given URL and returns a PageCache.
// URL format: redis://localhost:6379/0
func New(redisURL string, ttl time.Duration) (*PageCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: invalid redis URL")
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "cache: redis ping failed")
	}

	return &PageCache{client: client, ttl: ttl}, nil
}

// Get returns the cached body for url. Misses and Redis errors both report false.
func (c *PageCache) Get(ctx context.Context, url string) ([]byte, bool) {
	data, err := c.client.Get(ctx, buildKey(url)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores body with the configured TTL.
func (c *PageCache) Set(ctx context.Context, url string, body []byte) error {
	if err := c.client.Set(ctx, buildKey(url), body, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "cache: set")
	}
	return nil
}

// Close closes the Redis connection.
func (c *PageCache) Close() error {
	return c.client.Close()
}

func buildKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("granthub:page:%x", hash[:12])
}
