// Package session provides the cluster-shared session-cookie cache.
//
// MoSAPI allows at most four concurrent sessions per client certificate,
// so every replica must see the same cookie for a TLD. Redis gives the
// strongly-consistent single-writer store the contract asks for; two
// replicas racing a login end up with whichever cookie was written last,
// and the loser's cookie simply expires into a 401 and a re-login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// keyPrefix matches the secret-manager entry name the legacy deployment
// used for cookies, so operators can inspect the cache with familiar names.
const keyPrefix = "mosapi_session_cookie_"

// RedisCache is a mosapi.SessionCache backed by a shared Redis instance.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis (redis:// or rediss:// URL) and verifies the
// connection with a ping.
func New(ctx context.Context, url string, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: ping redis: %w", err)
	}
	return &RedisCache{client: client, logger: logger}, nil
}

// Key returns the Redis key for an entity's cookie.
func Key(entityID string) string { return keyPrefix + entityID }

// Get reports the cached cookie for an entity. Missing entries, blank
// values and Redis failures all surface as an ordinary miss: the caller
// re-authenticates, which is always safe.
func (c *RedisCache) Get(ctx context.Context, entityID string) (string, bool) {
	value, err := c.client.Get(ctx, Key(entityID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "session cache read failed, treating as miss",
				"entity_id", entityID, "error", err)
		}
		return "", false
	}
	if strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// Put installs a new cookie. Redis SET is atomic, so readers observe the
// old value or the new one, never a torn write.
func (c *RedisCache) Put(ctx context.Context, entityID, cookie string) error {
	if err := c.client.Set(ctx, Key(entityID), cookie, 0).Err(); err != nil {
		return fmt.Errorf("session: store cookie for %s: %w", entityID, err)
	}
	return nil
}

// Clear removes the entity's cookie.
func (c *RedisCache) Clear(ctx context.Context, entityID string) error {
	if err := c.client.Del(ctx, Key(entityID)).Err(); err != nil {
		return fmt.Errorf("session: clear cookie for %s: %w", entityID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
