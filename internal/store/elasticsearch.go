// internal/store/elasticsearch.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// mergeScript replaces top-level fields only. A partial-document update
// would merge nested objects such as rawStatus key by key.
const mergeScript = "ctx._source.putAll(params.fields)"

type ElasticsearchStore struct {
	es           *elasticsearch.Client
	mappingIndex string
	userIndex    string
}

func NewElasticsearchStore(es *elasticsearch.Client, cfg config.StoreConfig) *ElasticsearchStore {
	return &ElasticsearchStore{
		es:           es,
		mappingIndex: cfg.MappingCollection,
		userIndex:    cfg.UserCollection,
	}
}

func (s *ElasticsearchStore) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	raw, err := s.getSource(ctx, s.mappingIndex, token)
	if err != nil {
		return nil, err
	}
	return decodeMappingJSON(token, raw)
}

func (s *ElasticsearchStore) UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error {
	return s.mergeDoc(ctx, s.mappingIndex, token, mappingFields(token, update))
}

func (s *ElasticsearchStore) UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error {
	return s.mergeDoc(ctx, s.userIndex, rec.UserID, entitlementFields(rec))
}

func (s *ElasticsearchStore) GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error) {
	raw, err := s.getSource(ctx, s.userIndex, userID)
	if err != nil {
		return nil, err
	}
	return decodeEntitlementJSON(userID, raw)
}

func (s *ElasticsearchStore) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

func (s *ElasticsearchStore) Close() error { return nil }

func (s *ElasticsearchStore) getSource(ctx context.Context, index, id string) ([]byte, error) {
	res, err := s.es.Get(index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get %s/%s: %s: %s", index, id, res.Status(), string(body))
	}

	var hit struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", index, id, err)
	}
	if !hit.Found {
		return nil, ErrNotFound
	}
	return hit.Source, nil
}

func (s *ElasticsearchStore) mergeDoc(ctx context.Context, index, id string, fields map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"script": map[string]interface{}{
			"source": mergeScript,
			"lang":   "painless",
			"params": map[string]interface{}{"fields": fields},
		},
		"upsert": fields,
	})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	res, err := s.es.Update(index, id, bytes.NewReader(body),
		s.es.Update.WithContext(ctx),
		s.es.Update.WithRetryOnConflict(3),
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("update %s/%s: %s: %s", index, id, res.Status(), string(msg))
	}
	return nil
}
