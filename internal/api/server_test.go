// internal/api/server_test.go
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"play-entitlements/internal/common/auth"
	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/models"
	checkentitlement "play-entitlements/internal/workers/billing/check-entitlement"
	ingestnotification "play-entitlements/internal/workers/billing/ingest-notification"
	registerpurchase "play-entitlements/internal/workers/billing/register-purchase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Execute(ctx context.Context, input *registerpurchase.Input) (*registerpurchase.Output, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*registerpurchase.Output)
	return out, args.Error(1)
}

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Execute(ctx context.Context, body []byte) (*ingestnotification.Result, error) {
	args := m.Called(ctx, body)
	res, _ := args.Get(0).(*ingestnotification.Result)
	return res, args.Error(1)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Execute(ctx context.Context, input *checkentitlement.Input) (*checkentitlement.Output, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*checkentitlement.Output)
	return out, args.Error(1)
}

type stubAuthenticator struct {
	id  *auth.Identity
	err error
}

func (a stubAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	return a.id, a.err
}

type stubPushVerifier struct {
	err   error
	token string
}

func (v *stubPushVerifier) Verify(ctx context.Context, token string) error {
	v.token = token
	return v.err
}

// ==========================
// Test Helper Functions
// ==========================

type testServer struct {
	registrar *mockRegistrar
	ingester  *mockIngester
	reader    *mockReader
	handler   http.Handler
}

func createTestServer(t *testing.T, authn auth.Authenticator, push PushVerifier, readiness map[string]ReadinessCheck) *testServer {
	ts := &testServer{
		registrar: &mockRegistrar{},
		ingester:  &mockIngester{},
		reader:    &mockReader{},
	}
	srv := NewServer(Dependencies{
		Registrar:     ts.registrar,
		Ingester:      ts.ingester,
		Entitlements:  ts.reader,
		Authenticator: authn,
		PushVerifier:  push,
		Readiness:     readiness,
		Logger:        logger.NewTestLogger(t),
	}, Options{AllowedOrigins: []string{"https://app.example.com"}})
	ts.handler = srv.Routes()
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
	return body.Error
}

const registerBody = `{"userId":"u1","productRef":{"packageName":"com.example.app","productId":"pro_monthly","kind":"subscription"},"token":"tok-1"}`

// ==========================
// Registration
// ==========================

func TestRegister_Success(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)
	out := &registerpurchase.Output{
		OK:              true,
		IsPro:           true,
		CanonicalStatus: &models.CanonicalStatus{Active: true, Token: "tok-1"},
	}
	ts.registrar.On("Execute", mock.Anything, mock.MatchedBy(func(in *registerpurchase.Input) bool {
		return in.UserID == "u1" && in.Token == "tok-1" && in.ProductRef.Kind == models.ProductKindSubscription
	})).Return(out, nil)

	rec := ts.do(http.MethodPost, "/v1/purchases/verify", registerBody, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["isPro"])
	ts.registrar.AssertExpectations(t)
}

func TestRegister_LegacyRouteAndFlatBody(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)
	ts.registrar.On("Execute", mock.Anything, mock.MatchedBy(func(in *registerpurchase.Input) bool {
		return in.UserID == "u1" && in.Token == "tok-1" && in.ProductRef.ProductID == "pro_monthly"
	})).Return(&registerpurchase.Output{OK: true}, nil)

	rec := ts.do(http.MethodPost, "/verifyPurchase",
		`{"uid":"u1","packageName":"com.example.app","subscriptionId":"pro_monthly","purchaseToken":"tok-1"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	ts.registrar.AssertExpectations(t)
}

func TestRegister_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      errors.ErrorCode
		wantRetryable bool
	}{
		{
			name:       "validation",
			err:        errors.NewValidationError("token is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeValidationFailed,
		},
		{
			name:       "unsupported product",
			err:        errors.NewUnsupportedProductError("gold"),
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeUnsupportedProduct,
		},
		{
			name:       "purchase not found",
			err:        errors.NewNotFoundError("tok-1", nil),
			wantStatus: http.StatusInternalServerError,
			wantCode:   errors.ErrCodePurchaseNotFound,
		},
		{
			name:          "billing unavailable",
			err:           errors.NewTransientError(stderrors.New("503")),
			wantStatus:    http.StatusInternalServerError,
			wantCode:      errors.ErrCodeBillingUnavailable,
			wantRetryable: true,
		},
		{
			name:          "store write",
			err:           errors.NewStoreWriteError("users", stderrors.New("down")),
			wantStatus:    http.StatusInternalServerError,
			wantCode:      errors.ErrCodeStoreWriteFailed,
			wantRetryable: true,
		},
		{
			name:       "plain error",
			err:        stderrors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   errors.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := createTestServer(t, nil, nil, nil)
			ts.registrar.On("Execute", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := ts.do(http.MethodPost, "/v1/purchases/verify", registerBody, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, detail.Code)
			assert.Equal(t, tt.wantRetryable, detail.Retryable)
		})
	}
}

func TestRegister_InvalidJSON(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)

	rec := ts.do(http.MethodPost, "/v1/purchases/verify", `not json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrCodeValidationFailed, decodeError(t, rec).Code)
	ts.registrar.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRegister_CallerAuth(t *testing.T) {
	tests := []struct {
		name       string
		authn      auth.Authenticator
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "unauthenticated",
			authn:      stubAuthenticator{err: errors.NewUnauthenticatedError("missing bearer token")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "subject differs from userId",
			authn:      stubAuthenticator{id: &auth.Identity{Subject: "someone-else", Provider: "firebase"}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "subject matches",
			authn:      stubAuthenticator{id: &auth.Identity{Subject: "u1", Provider: "firebase"}},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := createTestServer(t, tt.authn, nil, nil)
			ts.registrar.On("Execute", mock.Anything, mock.Anything).Return(&registerpurchase.Output{OK: true}, nil)

			rec := ts.do(http.MethodPost, "/v1/purchases/verify", registerBody, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCalled {
				ts.registrar.AssertNumberOfCalls(t, "Execute", 1)
			} else {
				ts.registrar.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestRegister_SharedKey(t *testing.T) {
	ts := createTestServer(t, auth.NewSharedKeyAuthenticator("s3cret"), nil, nil)
	ts.registrar.On("Execute", mock.Anything, mock.Anything).Return(&registerpurchase.Output{OK: true}, nil)

	rec := ts.do(http.MethodPost, "/verifyPurchase", registerBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/verifyPurchase", registerBody, map[string]string{auth.SharedKeyHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ==========================
// Notifications
// ==========================

func TestNotification_AckAndRedeliver(t *testing.T) {
	tests := []struct {
		name       string
		result     *ingestnotification.Result
		err        error
		wantStatus int
	}{
		{
			name:       "reconciled",
			result:     &ingestnotification.Result{Outcome: ingestnotification.OutcomeReconciled},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "malformed is acknowledged",
			result:     &ingestnotification.Result{Outcome: ingestnotification.OutcomeMalformed},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "transient failure is redelivered",
			err:        errors.NewTransientError(stderrors.New("503")),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "store failure is redelivered",
			err:        errors.NewStoreWriteError("users", stderrors.New("down")),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := createTestServer(t, nil, nil, nil)
			ts.ingester.On("Execute", mock.Anything, []byte(`{"message":{"data":"e30="}}`)).Return(tt.result, tt.err)

			rec := ts.do(http.MethodPost, "/v1/notifications/play", `{"message":{"data":"e30="}}`, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Empty(t, rec.Body.String())
			ts.ingester.AssertExpectations(t)
		})
	}
}

func TestNotification_PushTokenRejected(t *testing.T) {
	push := &stubPushVerifier{err: errors.NewUnauthenticatedError("invalid push token")}
	ts := createTestServer(t, nil, push, nil)

	rec := ts.do(http.MethodPost, "/v1/notifications/play", `{}`, map[string]string{"Authorization": "Bearer abc"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "abc", push.token)
	ts.ingester.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestNotification_PushTokenAccepted(t *testing.T) {
	push := &stubPushVerifier{}
	ts := createTestServer(t, nil, push, nil)
	ts.ingester.On("Execute", mock.Anything, mock.Anything).Return(&ingestnotification.Result{Outcome: ingestnotification.OutcomeTest}, nil)

	rec := ts.do(http.MethodPost, "/v1/notifications/play", `{}`, map[string]string{"Authorization": "Bearer abc"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// ==========================
// Entitlement read path
// ==========================

func TestEntitlement_Get(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)
	ts.reader.On("Execute", mock.Anything, &checkentitlement.Input{UserID: "u1"}).
		Return(&checkentitlement.Output{UserID: "u1", IsPro: true}, nil)

	rec := ts.do(http.MethodGet, "/v1/entitlements/u1", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out checkentitlement.Output
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "u1", out.UserID)
	assert.True(t, out.IsPro)
}

func TestEntitlement_Forbidden(t *testing.T) {
	ts := createTestServer(t, stubAuthenticator{id: &auth.Identity{Subject: "u2"}}, nil, nil)

	rec := ts.do(http.MethodGet, "/v1/entitlements/u1", "", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errors.ErrCodeForbidden, decodeError(t, rec).Code)
}

func TestEntitlement_StoreFailure(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)
	ts.reader.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.NewStoreReadError("users", stderrors.New("down")))

	rec := ts.do(http.MethodGet, "/v1/entitlements/u1", "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, errors.ErrCodeStoreReadFailed, detail.Code)
	assert.True(t, detail.Retryable)
}

// ==========================
// Operational endpoints
// ==========================

func TestHealthAndReady(t *testing.T) {
	ts := createTestServer(t, nil, nil, map[string]ReadinessCheck{
		"store": func(ctx context.Context) error { return nil },
	})

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/metrics", "", nil).Code)
}

func TestReady_FailingCheck(t *testing.T) {
	ts := createTestServer(t, nil, nil, map[string]ReadinessCheck{
		"store": func(ctx context.Context) error { return stderrors.New("connection refused") },
	})

	rec := ts.do(http.MethodGet, "/ready", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body["status"])
}

func TestRequestID_Propagated(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)

	rec := ts.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "req-42"})

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestPanicIsRecovered(t *testing.T) {
	ts := createTestServer(t, nil, nil, nil)
	ts.registrar.On("Execute", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("nil map")
	})

	rec := ts.do(http.MethodPost, "/v1/purchases/verify", registerBody, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errors.ErrCodeInternal, decodeError(t, rec).Code)
}
