// internal/store/store_test.go
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/database"
	"play-entitlements/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func testStoreConfig() config.StoreConfig {
	return config.StoreConfig{
		Driver:            config.StoreMemory,
		MappingCollection: "play_purchases",
		UserCollection:    "users",
	}
}

func sampleUpdate() models.MappingUpdate {
	return models.MappingUpdate{
		UserID:     "u1",
		ProductRef: &models.ProductRef{PackageName: "com.app", ProductID: "monthly", Kind: models.ProductKindSubscription},
		RawStatus:  map[string]interface{}{"expiryTimeMillis": "1700000000000", "autoRenewing": true},
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleEntitlement(isPro bool) *models.EntitlementRecord {
	expiry := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &models.EntitlementRecord{
		UserID:         "u1",
		IsPro:          isPro,
		LastVerifiedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LastSource:     models.SourceRegistration,
		ExpiresAt:      &expiry,
		ProductID:      "monthly",
		PurchaseToken:  "tok-A",
	}
}

// jsonDocArg matches a JSON document argument containing the given fields.
type jsonDocArg map[string]interface{}

func (m jsonDocArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return false
	}
	for k, want := range m {
		if got, ok := doc[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetMapping(ctx, "tok-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetEntitlement(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.UpsertMapping(ctx, "tok-A", sampleUpdate()))

	rec, err := s.GetMapping(ctx, "tok-A")
	require.NoError(t, err)
	assert.Equal(t, "tok-A", rec.Token)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "monthly", rec.ProductRef.ProductID)
	assert.Equal(t, models.ProductKindSubscription, rec.ProductRef.Kind)
	assert.Equal(t, true, rec.RawStatus["autoRenewing"])

	// A notification refresh replaces rawStatus and keeps the owner.
	eventTime := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMapping(ctx, "tok-A", models.MappingUpdate{
		RawStatus: map[string]interface{}{"expiryTimeMillis": "1600000000000"},
		LastNotification: &models.NotificationSummary{
			Kind: models.NotificationKindSubscription, Type: 13, TypeName: "SUBSCRIPTION_EXPIRED",
			EventTime: &eventTime, ReceivedAt: eventTime,
		},
	}))
	rec, err = s.GetMapping(ctx, "tok-A")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "monthly", rec.ProductRef.ProductID)
	assert.Equal(t, "1600000000000", rec.RawStatus["expiryTimeMillis"])
	_, stale := rec.RawStatus["autoRenewing"]
	assert.False(t, stale, "rawStatus must be replaced, not merged")
	require.NotNil(t, rec.LastNotification)
	assert.Equal(t, 13, rec.LastNotification.Type)

	require.NoError(t, s.UpsertEntitlement(ctx, sampleEntitlement(true)))
	ent, err := s.GetEntitlement(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ent.IsPro)
	assert.Equal(t, models.SourceRegistration, ent.LastSource)
	require.NotNil(t, ent.ExpiresAt)
	assert.True(t, ent.ExpiresAt.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	revoked := sampleEntitlement(false)
	revoked.ExpiresAt = nil
	revoked.LastSource = models.SourceNotification
	require.NoError(t, s.UpsertEntitlement(ctx, revoked))
	ent, err = s.GetEntitlement(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ent.IsPro)
	assert.Nil(t, ent.ExpiresAt)
	assert.Equal(t, models.SourceNotification, ent.LastSource)
}

// ==========================
// Memory
// ==========================

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_KeepsUnrelatedUserFields(t *testing.T) {
	s := NewMemoryStore()
	s.PutUserFields("u1", map[string]interface{}{"displayName": "Ada", "isAdmin": true})

	require.NoError(t, s.UpsertEntitlement(context.Background(), sampleEntitlement(true)))

	doc := s.UserDocument("u1")
	assert.Equal(t, "Ada", doc["displayName"])
	assert.Equal(t, true, doc["isAdmin"])
	assert.Equal(t, true, doc["isPro"])
}

func TestMemoryStore_ReadsLegacyMappingDocument(t *testing.T) {
	s := NewMemoryStore()
	s.PutMappingDocument("tok-legacy", map[string]interface{}{
		"uid":            "u9",
		"packageName":    "com.app",
		"subscriptionId": "yearly",
		"verification":   map[string]interface{}{"expiryTimeMillis": "1"},
	})

	rec, err := s.GetMapping(context.Background(), "tok-legacy")
	require.NoError(t, err)
	assert.Equal(t, "u9", rec.UserID)
	assert.Equal(t, models.ProductRef{PackageName: "com.app", ProductID: "yearly", Kind: models.ProductKindSubscription}, rec.ProductRef)
	assert.Equal(t, "1", rec.RawStatus["expiryTimeMillis"])
}

// ==========================
// Redis
// ==========================

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, testStoreConfig())
	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)

	assert.True(t, mr.Exists("play_purchases:tok-A"))
	assert.Equal(t, "false", mr.HGet("users:u1", "isPro"))
}

func TestRedisStore_KeepsUnrelatedUserFields(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mr.HSet("users:u1", "displayName", `"Ada"`)

	s := NewRedisStore(client, testStoreConfig())
	require.NoError(t, s.UpsertEntitlement(context.Background(), sampleEntitlement(true)))

	assert.Equal(t, `"Ada"`, mr.HGet("users:u1", "displayName"))
	assert.Equal(t, "true", mr.HGet("users:u1", "isPro"))
}

// ==========================
// Postgres
// ==========================

func TestPostgresStore_UpsertEntitlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db, testStoreConfig())

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "users" (id, doc, updated_at) VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (id) DO UPDATE SET doc = "users".doc || EXCLUDED.doc, updated_at = NOW()`)).
		WithArgs("u1", jsonDocArg{"isPro": true, "lastSource": "registration", "proProductId": "monthly"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertEntitlement(context.Background(), sampleEntitlement(true)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMapping(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		validate  func(t *testing.T, rec *models.TokenMappingRecord)
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"doc"}).
					AddRow([]byte(`{"token":"tok-A","userId":"u1","productRef":{"packageName":"com.app","productId":"monthly","kind":"subscription"},"updatedAt":"2026-01-02T03:04:05Z"}`))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "play_purchases" WHERE id = $1`)).
					WithArgs("tok-A").
					WillReturnRows(rows)
			},
			validate: func(t *testing.T, rec *models.TokenMappingRecord) {
				assert.Equal(t, "u1", rec.UserID)
				assert.True(t, rec.ProductRef.IsSubscription())
			},
		},
		{
			name: "missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "play_purchases" WHERE id = $1`)).
					WithArgs("tok-A").
					WillReturnRows(sqlmock.NewRows([]string{"doc"}))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setupMock(mock)

			rec, err := NewPostgresStore(db, testStoreConfig()).GetMapping(context.Background(), "tok-A")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
				tt.validate(t, rec)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO "play_purchases"`).WillReturnError(errors.New("connection reset"))

	err = NewPostgresStore(db, testStoreConfig()).UpsertMapping(context.Background(), "tok-A", sampleUpdate())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "play_purchases"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "users"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresStore(db, testStoreConfig()).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Elasticsearch
// ==========================

// fakeElasticsearch implements the two document endpoints the store uses,
// applying the merge script's putAll semantics.
type fakeElasticsearch struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

func (f *fakeElasticsearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
		return
	}
	key := parts[0] + "/" + parts[2]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch parts[1] {
	case "_doc":
		doc, ok := f.docs[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"found": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"found": true, "_source": doc})
	case "_update":
		var body struct {
			Script struct {
				Params struct {
					Fields map[string]interface{} `json:"fields"`
				} `json:"params"`
			} `json:"script"`
			Upsert map[string]interface{} `json:"upsert"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		doc, ok := f.docs[key]
		if !ok {
			f.docs[key] = body.Upsert
		} else {
			for k, v := range body.Script.Params.Fields {
				doc[k] = v
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": "updated"})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestElasticsearchStore(t *testing.T) {
	fake := &fakeElasticsearch{docs: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	exerciseStore(t, NewElasticsearchStore(es, testStoreConfig()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.docs, "users/u1")
	assert.Contains(t, fake.docs, "play_purchases/tok-A")
}

// ==========================
// Factory
// ==========================

func TestNew(t *testing.T) {
	cfg := testStoreConfig()

	s, err := New(context.Background(), cfg, Backends{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	for _, driver := range []string{config.StoreFirestore, config.StorePostgres, config.StoreRedis, config.StoreElasticsearch} {
		cfg.Driver = driver
		_, err := New(context.Background(), cfg, Backends{})
		assert.Error(t, err, driver)
	}

	mr := miniredis.RunT(t)
	cfg.Driver = config.StoreRedis
	s, err = New(context.Background(), cfg, Backends{Redis: &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	_ = s.Close()
}

// ==========================
// Firestore (emulator only)
// ==========================

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	fs, err := database.NewFirestore(ctx, config.FirestoreConfig{ProjectID: "demo-entitlements"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	cfg := testStoreConfig()
	cfg.MappingCollection = "play_purchases_test_" + time.Now().Format("150405.000000")
	cfg.UserCollection = "users_test_" + time.Now().Format("150405.000000")
	exerciseStore(t, NewFirestoreStore(fs, cfg))
}
