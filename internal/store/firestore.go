// internal/store/firestore.go
package store

import (
	"context"
	"fmt"
	"sort"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/database"
	"play-entitlements/internal/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore uses the collections the Cloud Functions deployment wrote:
// play_purchases/{token} and users/{uid}.
type FirestoreStore struct {
	fs       *database.FirestoreClient
	mappings string
	users    string
}

func NewFirestoreStore(fs *database.FirestoreClient, cfg config.StoreConfig) *FirestoreStore {
	return &FirestoreStore{fs: fs, mappings: cfg.MappingCollection, users: cfg.UserCollection}
}

func (s *FirestoreStore) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	doc, err := s.get(ctx, s.mappings, token)
	if err != nil {
		return nil, err
	}
	return decodeMapping(token, doc)
}

func (s *FirestoreStore) UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error {
	return s.merge(ctx, s.mappings, token, mappingFields(token, update))
}

func (s *FirestoreStore) UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error {
	return s.merge(ctx, s.users, rec.UserID, entitlementFields(rec))
}

func (s *FirestoreStore) GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error) {
	doc, err := s.get(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}
	return decodeEntitlement(userID, doc)
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	return s.fs.Ping(ctx)
}

func (s *FirestoreStore) Close() error {
	return s.fs.Close()
}

func (s *FirestoreStore) get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	snap, err := s.fs.Client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return snap.Data(), nil
}

// merge sets exactly the given top-level fields. MergeAll would merge
// nested maps key by key and leave stale rawStatus keys behind.
func (s *FirestoreStore) merge(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	paths := make([]firestore.FieldPath, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, firestore.FieldPath{k})
	}

	if _, err := s.fs.Client.Collection(collection).Doc(id).Set(ctx, fields, firestore.Merge(paths...)); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}
