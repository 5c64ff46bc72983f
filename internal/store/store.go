// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/database"
	"play-entitlements/internal/models"
)

// ErrNotFound is returned by point reads for a missing document.
var ErrNotFound = errors.New("store: document not found")

// TokenMappingStore persists purchase token -> user mappings, keyed by token.
type TokenMappingStore interface {
	GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error)
	UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error
}

// EntitlementStore persists the entitlement fields of user documents.
// UpsertEntitlement merges; fields it does not own are left alone.
type EntitlementStore interface {
	UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error
	GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error)
}

type Store interface {
	TokenMappingStore
	EntitlementStore
	Ping(ctx context.Context) error
	Close() error
}

// Backends carries the already dialled client for the configured driver.
type Backends struct {
	Postgres      *database.PostgresClient
	Redis         *database.RedisClient
	Elasticsearch *database.ElasticsearchClient
	Firestore     *database.FirestoreClient
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig, b Backends) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFirestore:
		if b.Firestore == nil {
			return nil, fmt.Errorf("firestore store requires a firestore client")
		}
		return NewFirestoreStore(b.Firestore, cfg), nil
	case config.StorePostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("postgres store requires a postgres client")
		}
		s := NewPostgresStore(b.Postgres.DB, cfg)
		if cfg.AutoMigrate {
			if err := s.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	case config.StoreRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(b.Redis.Client, cfg), nil
	case config.StoreElasticsearch:
		if b.Elasticsearch == nil {
			return nil, fmt.Errorf("elasticsearch store requires an elasticsearch client")
		}
		return NewElasticsearchStore(b.Elasticsearch.Client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
