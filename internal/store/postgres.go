// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/models"

	"github.com/lib/pq"
)

// PostgresStore keeps each document as a JSONB column. Merges use the jsonb
// concatenation operator, which replaces top-level keys.
type PostgresStore struct {
	db           *sql.DB
	mappingTable string
	userTable    string
}

func NewPostgresStore(db *sql.DB, cfg config.StoreConfig) *PostgresStore {
	return &PostgresStore{
		db:           db,
		mappingTable: pq.QuoteIdentifier(cfg.MappingCollection),
		userTable:    pq.QuoteIdentifier(cfg.UserCollection),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, table := range []string{s.mappingTable, s.userTable} {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	doc JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	raw, err := s.getDoc(ctx, s.mappingTable, token)
	if err != nil {
		return nil, err
	}
	return decodeMappingJSON(token, raw)
}

func (s *PostgresStore) UpsertMapping(ctx context.Context, token string, update models.MappingUpdate) error {
	return s.mergeDoc(ctx, s.mappingTable, token, mappingFields(token, update))
}

func (s *PostgresStore) UpsertEntitlement(ctx context.Context, rec *models.EntitlementRecord) error {
	return s.mergeDoc(ctx, s.userTable, rec.UserID, entitlementFields(rec))
}

func (s *PostgresStore) GetEntitlement(ctx context.Context, userID string) (*models.EntitlementRecord, error) {
	raw, err := s.getDoc(ctx, s.userTable, userID)
	if err != nil {
		return nil, err
	}
	return decodeEntitlementJSON(userID, raw)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) getDoc(ctx context.Context, table, id string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return raw, nil
}

func (s *PostgresStore) mergeDoc(ctx context.Context, table, id string, fields map[string]interface{}) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %[1]s (id, doc, updated_at) VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (id) DO UPDATE SET doc = %[1]s.doc || EXCLUDED.doc, updated_at = NOW()`, table)
	if _, err := s.db.ExecContext(ctx, query, id, string(doc)); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}
