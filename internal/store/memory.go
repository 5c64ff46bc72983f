// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"play-entitlements/internal/models"
)

// MemoryStore keeps documents as field maps so merge semantics match the
// remote backends. Used in tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]map[string]interface{}
	users    map[string]map[string]interface{}
	writes   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mappings: make(map[string]map[string]interface{}),
		users:    make(map[string]map[string]interface{}),
	}
}

func (s *MemoryStore) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	s.mu.RLock()
	doc, ok := s.mappings[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeMapping(token, doc)
}

func (s *MemoryStore) UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[token] = mergeFields(s.mappings[token], mappingFields(token, update))
	s.writes++
	return nil
}

func (s *MemoryStore) UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[rec.UserID] = mergeFields(s.users[rec.UserID], entitlementFields(rec))
	s.writes++
	return nil
}

func (s *MemoryStore) GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error) {
	s.mu.RLock()
	doc, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeEntitlement(userID, doc)
}

// PutUserFields writes arbitrary user fields, standing in for the profile
// data other services keep in the same document.
func (s *MemoryStore) PutUserFields(userID string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = mergeFields(s.users[userID], fields)
}

// UserDocument returns a copy of the whole user document.
func (s *MemoryStore) UserDocument(userID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mergeFields(nil, s.users[userID])
}

// PutMappingDocument stores a raw mapping document as-is.
func (s *MemoryStore) PutMappingDocument(token string, doc map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[token] = mergeFields(nil, doc)
}

// Writes counts successful write calls.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func mergeFields(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
