// internal/workers/billing/ingest-notification/service_test.go
package ingestnotification

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/gcp/gcptest"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"
	reconcileentitlement "play-entitlements/internal/workers/billing/reconcile-entitlement"
	verifypurchase "play-entitlements/internal/workers/billing/verify-purchase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/androidpublisher/v3"
)

// ==========================
// Test Helper Functions
// ==========================

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	play    *gcptest.FakePlay
	store   *store.MemoryStore
	service *Service
}

func createTestEnv(t *testing.T, cfg *Config) *testEnv {
	log := logger.NewTestLogger(t)
	now := func() time.Time { return fixedNow }
	play := gcptest.NewFakePlay(t)
	st := store.NewMemoryStore()

	verifier := verifypurchase.NewService(verifypurchase.ServiceDependencies{
		Clients: play.Provider(t),
		Logger:  log,
		Now:     now,
	}, &verifypurchase.Config{Timeout: 2 * time.Second, RateLimitPerSecond: 1000, RateLimitBurst: 100})

	return &testEnv{
		play:  play,
		store: st,
		service: NewService(ServiceDependencies{
			Verifier: verifier,
			Mappings: st,
			Reconciler: reconcileentitlement.NewService(reconcileentitlement.ServiceDependencies{
				Store: st, Logger: log, Now: now,
			}),
			Logger: log,
			Now:    now,
		}, cfg),
	}
}

func (e *testEnv) mapToken(t *testing.T, token, userID string) {
	t.Helper()
	require.NoError(t, e.store.UpsertMapping(context.Background(), token, models.MappingUpdate{
		UserID: userID,
		ProductRef: &models.ProductRef{
			PackageName: "com.example.app", ProductID: "pro_monthly", Kind: models.ProductKindSubscription,
		},
		UpdatedAt: fixedNow.Add(-time.Hour),
	}))
}

type failingMappings struct{ store.TokenMappingStore }

func (failingMappings) GetMapping(ctx context.Context, token string) (*models.TokenMappingRecord, error) {
	return nil, stderrors.New("deadline exceeded talking to store")
}

// ==========================
// Core Functionality Tests
// ==========================

func TestService_Execute_RenewalGrantsPro(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	env.play.SetActiveSubscription("tok-1", fixedNow.Add(30*24*time.Hour))

	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)
	assert.Equal(t, "u1", res.UserID)
	require.NotNil(t, res.IsPro)
	assert.True(t, *res.IsPro)

	rec, err := env.store.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, rec.IsPro)
	assert.Equal(t, models.SourceNotification, rec.LastSource)

	mapping, err := env.store.GetMapping(context.Background(), "tok-1")
	require.NoError(t, err)
	require.NotNil(t, mapping.LastNotification)
	assert.Equal(t, "SUBSCRIPTION_RENEWED", mapping.LastNotification.TypeName)
	assert.Equal(t, "msg-1", mapping.LastNotification.MessageID)
	assert.NotEmpty(t, mapping.RawStatus)
}

func TestService_Execute_ExpiryRevokesPro(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	env.play.SetActiveSubscription("tok-1", fixedNow.Add(time.Hour))

	_, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 4), fixedNow))
	require.NoError(t, err)

	env.play.SetActiveSubscription("tok-1", fixedNow.Add(-time.Minute))
	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 13), fixedNow))
	require.NoError(t, err)
	assert.False(t, *res.IsPro)

	rec, err := env.store.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsPro)
}

func TestService_Execute_NotFoundRevokes(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	require.NoError(t, env.store.UpsertEntitlement(context.Background(), &models.EntitlementRecord{UserID: "u1", IsPro: true}))
	env.play.Fail("tok-1", http.StatusGone)

	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 12), fixedNow))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)

	rec, err := env.store.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsPro)

	mapping, err := env.store.GetMapping(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, true, mapping.RawStatus["notFound"])
}

func TestService_Execute_VoidedPurchase(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	env.play.Fail("tok-1", http.StatusNotFound)

	body := pushEnvelope(t, map[string]interface{}{
		"packageName": "com.example.app",
		"voidedPurchaseNotification": map[string]interface{}{
			"purchaseToken": "tok-1", "orderId": "GPA.1", "productType": 1, "refundType": 1,
		},
	}, fixedNow)

	res, err := env.service.Execute(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationKindVoided, res.Kind)
	assert.False(t, *res.IsPro)
}

func TestService_Execute_UsesNotificationRefForLegacyMapping(t *testing.T) {
	env := createTestEnv(t, nil)
	env.store.PutMappingDocument("tok-1", map[string]interface{}{"uid": "u1"})
	env.play.SetActiveSubscription("tok-1", fixedNow.Add(time.Hour))

	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow))
	require.NoError(t, err)
	assert.True(t, *res.IsPro)

	reqs := env.play.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "subscriptions", reqs[0].Kind)
	assert.Equal(t, "pro_monthly", reqs[0].ProductID)

	mapping, err := env.store.GetMapping(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "pro_monthly", mapping.ProductRef.ProductID)
	assert.Equal(t, "u1", mapping.UserID)
}

func TestService_Execute_Idempotent(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	env.play.SetActiveSubscription("tok-1", fixedNow.Add(time.Hour))
	body := pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow)

	_, err := env.service.Execute(context.Background(), body)
	require.NoError(t, err)
	first := env.store.UserDocument("u1")

	_, err = env.service.Execute(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, first, env.store.UserDocument("u1"))
}

// ==========================
// Acknowledged Without Write Tests
// ==========================

func TestService_Execute_AcknowledgedWithoutWrite(t *testing.T) {
	tests := []struct {
		name          string
		body          func(t *testing.T) []byte
		expectOutcome string
	}{
		{
			name:          "malformed payload",
			body:          func(t *testing.T) []byte { return []byte(`{"data":"%%%"}`) },
			expectOutcome: OutcomeMalformed,
		},
		{
			name: "test notification",
			body: func(t *testing.T) []byte {
				return pushEnvelope(t, map[string]interface{}{"packageName": "com.example.app", "testNotification": map[string]interface{}{"version": "1.0"}}, fixedNow)
			},
			expectOutcome: OutcomeTest,
		},
		{
			name: "unknown shape",
			body: func(t *testing.T) []byte {
				return pushEnvelope(t, map[string]interface{}{"packageName": "com.example.app", "somethingNew": map[string]interface{}{}}, fixedNow)
			},
			expectOutcome: OutcomeIgnored,
		},
		{
			name: "missing token",
			body: func(t *testing.T) []byte {
				return pushEnvelope(t, subscriptionRTDN("", 2), fixedNow)
			},
			expectOutcome: OutcomeNoToken,
		},
		{
			name: "unmapped token",
			body: func(t *testing.T) []byte {
				return pushEnvelope(t, subscriptionRTDN("tok-unknown", 2), fixedNow)
			},
			expectOutcome: OutcomeUnmapped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := createTestEnv(t, nil)

			res, err := env.service.Execute(context.Background(), tt.body(t))
			require.NoError(t, err)
			assert.Equal(t, tt.expectOutcome, res.Outcome)
			assert.Zero(t, env.store.Writes())
			assert.Zero(t, env.play.Calls())
		})
	}
}

func TestService_Execute_MappingWithoutUser(t *testing.T) {
	env := createTestEnv(t, nil)
	env.store.PutMappingDocument("tok-1", map[string]interface{}{"packageName": "com.example.app"})

	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmapped, res.Outcome)
	assert.Zero(t, env.play.Calls())
}

func TestService_Execute_IncompleteProductRefIsAcknowledged(t *testing.T) {
	env := createTestEnv(t, nil)
	env.store.PutMappingDocument("tok-1", map[string]interface{}{"uid": "u1"})

	body := pushEnvelope(t, map[string]interface{}{
		"packageName": "com.example.app",
		"voidedPurchaseNotification": map[string]interface{}{
			"purchaseToken": "tok-1", "orderId": "GPA.1", "productType": 1, "refundType": 1,
		},
	}, fixedNow)

	res, err := env.service.Execute(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnverifiable, res.Outcome)
	assert.Equal(t, "u1", res.UserID)
	assert.Zero(t, env.play.Calls())

	_, err = env.store.GetEntitlement(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_Execute_UnmappedWithinGracePeriod(t *testing.T) {
	env := createTestEnv(t, &Config{Timeout: time.Second, UnmappedGracePeriod: time.Minute})

	_, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 4), fixedNow.Add(-10*time.Second)))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnmappedToken, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))

	res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 4), fixedNow.Add(-2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmapped, res.Outcome)
}

// ==========================
// Redelivery Tests
// ==========================

func TestService_Execute_TransientErrorsRedeliver(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		expectCode errors.ErrorCode
	}{
		{name: "provider outage", status: http.StatusServiceUnavailable, expectCode: errors.ErrCodeBillingUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, expectCode: errors.ErrCodeBillingUnavailable},
		{name: "credential rejected", status: http.StatusUnauthorized, expectCode: errors.ErrCodeBillingAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := createTestEnv(t, nil)
			env.mapToken(t, "tok-1", "u1")
			writesBefore := env.store.Writes()
			env.play.Fail("tok-1", tt.status)

			res, err := env.service.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.expectCode, errors.CodeOf(err))
			assert.True(t, errors.IsRetryable(err))
			assert.Equal(t, writesBefore, env.store.Writes())
		})
	}
}

func TestService_Execute_StoreReadFailureRedelivers(t *testing.T) {
	log := logger.NewTestLogger(t)
	svc := NewService(ServiceDependencies{
		Mappings: failingMappings{},
		Logger:   log,
		Now:      func() time.Time { return fixedNow },
	}, nil)

	_, err := svc.Execute(context.Background(), pushEnvelope(t, subscriptionRTDN("tok-1", 2), fixedNow))
	assert.Equal(t, errors.ErrCodeStoreReadFailed, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

// ==========================
// Reverify Tests
// ==========================

func TestService_Reverify(t *testing.T) {
	env := createTestEnv(t, nil)
	env.mapToken(t, "tok-1", "u1")
	env.play.SetActiveSubscription("tok-1", fixedNow.Add(time.Hour))

	res, err := env.service.Reverify(context.Background(), "tok-1", models.ProductRef{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)
	assert.True(t, *res.IsPro)

	_, err = env.service.Reverify(context.Background(), " ", models.ProductRef{})
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
}

func TestService_Reverify_OneTimeProduct(t *testing.T) {
	env := createTestEnv(t, nil)
	require.NoError(t, env.store.UpsertMapping(context.Background(), "tok-p", models.MappingUpdate{
		UserID:     "u1",
		ProductRef: &models.ProductRef{PackageName: "com.example.app", ProductID: "pro_lifetime", Kind: models.ProductKindOneTime},
	}))
	env.play.SetProduct("tok-p", &androidpublisher.ProductPurchase{PurchaseState: 0})

	res, err := env.service.Reverify(context.Background(), "tok-p", models.ProductRef{})
	require.NoError(t, err)
	assert.True(t, *res.IsPro)
}
