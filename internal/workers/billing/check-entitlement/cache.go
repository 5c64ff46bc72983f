// internal/workers/billing/check-entitlement/cache.go
package checkentitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"play-entitlements/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "entitlement:"

func CacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// floorKey holds the verification time (unix micros) of the newest record
// written for the user. Fills older than the floor are dropped.
func floorKey(userID string) string {
	return cacheKeyPrefix + userID + ":floor"
}

// KEYS: entry, floor. ARGV: verifiedAt, payload, ttl ms (0 = no expiry).
var fillScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < floor then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// KEYS: entry, floor. ARGV: verifiedAt, floor ttl ms.
var invalidateScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > floor then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
else
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// Cache is the redis read-through cache in front of the entitlement store.
// A nil *Cache is a permanent miss.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached record; the bool is false on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*models.EntitlementRecord, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	val, err := c.client.Get(ctx, CacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var rec models.EntitlementRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &rec, true, nil
}

// Set fills the cache with a record read from the store. It is a no-op when
// a record verified later has been written since, so a reader that raced a
// reconciliation cannot pin the older state.
func (c *Cache) Set(ctx context.Context, rec *models.EntitlementRecord) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	keys := []string{CacheKey(rec.UserID), floorKey(rec.UserID)}
	err = fillScript.Run(ctx, c.client, keys, rec.LastVerifiedAt.UnixMicro(), string(data), c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry after rec was written to the store.
func (c *Cache) Invalidate(ctx context.Context, rec *models.EntitlementRecord) error {
	if c == nil {
		return nil
	}
	floorTTL := c.ttl
	if floorTTL < time.Minute {
		floorTTL = time.Minute
	}
	keys := []string{CacheKey(rec.UserID), floorKey(rec.UserID)}
	err := invalidateScript.Run(ctx, c.client, keys, rec.LastVerifiedAt.UnixMicro(), floorTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
