// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document in a hash; every top-level field is a
// JSON-encoded hash value, so HSET gives per-field merge semantics.
type RedisStore struct {
	client        *redis.Client
	mappingPrefix string
	userPrefix    string
}

func NewRedisStore(client *redis.Client, cfg config.StoreConfig) *RedisStore {
	return &RedisStore{
		client:        client,
		mappingPrefix: cfg.MappingCollection + ":",
		userPrefix:    cfg.UserCollection + ":",
	}
}

func (s *RedisStore) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	doc, err := s.getDoc(ctx, s.mappingPrefix+token)
	if err != nil {
		return nil, err
	}
	return decodeMapping(token, doc)
}

func (s *RedisStore) UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error {
	return s.mergeDoc(ctx, s.mappingPrefix+token, mappingFields(token, update))
}

func (s *RedisStore) UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error {
	return s.mergeDoc(ctx, s.userPrefix+rec.UserID, entitlementFields(rec))
}

func (s *RedisStore) GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error) {
	doc, err := s.getDoc(ctx, s.userPrefix+userID)
	if err != nil {
		return nil, err
	}
	return decodeEntitlement(userID, doc)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) getDoc(ctx context.Context, key string) (map[string]interface{}, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	doc := make(map[string]interface{}, len(values))
	for field, encoded := range values {
		var v interface{}
		if err := json.Unmarshal([]byte(encoded), &v); err != nil {
			// Written by something other than this store; keep the raw string.
			v = encoded
		}
		doc[field] = v
	}
	return doc, nil
}

func (s *RedisStore) mergeDoc(ctx context.Context, key string, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields))
	for field, v := range fields {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", field, err)
		}
		values[field] = string(encoded)
	}
	if err := s.client.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}
