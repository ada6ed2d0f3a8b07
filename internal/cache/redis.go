package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/registry/services/customer/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// seenEventTTL bounds how long a consumed event id is remembered for
// idempotency checks. Redeliveries arrive within seconds; a day is plenty.
const seenEventTTL = 24 * time.Hour

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Disabled returns a cache that rejects reads and writes and reports every
// event as unseen. Used when Redis is unavailable at startup.
func Disabled() *RedisCache {
	return &RedisCache{enabled: false}
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errors.Wrap(err, "key not found in cache")
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	err = c.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// WasEventSeen reports whether an event id was already marked seen, without
// marking it. When the cache is disabled every event is reported unseen.
func (c *RedisCache) WasEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	exists, err := c.client.Exists(ctx, GetSeenEventCacheKey(eventID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check seen event in Redis")
	}

	return exists > 0, nil
}

// MarkEventSeen records a consumed event id and reports whether it was seen
// before. The first caller gets (false, nil); duplicate deliveries of the same
// event id get (true, nil). When the cache is disabled every delivery is
// reported as unseen, so consumption degrades to plain at-least-once.
func (c *RedisCache) MarkEventSeen(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	set, err := c.client.SetNX(ctx, GetSeenEventCacheKey(eventID), 1, seenEventTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to mark event as seen in Redis")
	}

	return !set, nil
}

// IncrementDeliveryCount counts delivery attempts for an event id and returns
// the new total. Used by the consumer to cap redeliveries of poison messages.
// When the cache is disabled it returns 1, which keeps every message under
// the cap and preserves unbounded-requeue behavior.
func (c *RedisCache) IncrementDeliveryCount(ctx context.Context, eventID uuid.UUID) (int64, error) {
	if !c.enabled {
		return 1, nil
	}

	key := GetDeliveryCountCacheKey(eventID)
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to increment delivery count in Redis")
	}

	// Expire alongside the seen-set; only needs to survive the requeue loop.
	// A lost expiry would leave the counter key behind forever.
	if count == 1 {
		if err := c.client.Expire(ctx, key, seenEventTTL).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("event_id", eventID.String()).
				Msg("Failed to set TTL on delivery counter")
		}
	}

	return count, nil
}

// GetCustomerCacheKey generates a cache key for customer data
func GetCustomerCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("customer:%s", id.String())
}

// GetSeenEventCacheKey generates a cache key for consumed event ids
func GetSeenEventCacheKey(eventID uuid.UUID) string {
	return fmt.Sprintf("event:seen:%s", eventID.String())
}

// GetDeliveryCountCacheKey generates a cache key for delivery attempt counters
func GetDeliveryCountCacheKey(eventID uuid.UUID) string {
	return fmt.Sprintf("event:deliveries:%s", eventID.String())
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}

	return c.client.Close()
}
