// internal/common/gcp/gcptest/fakeplay.go
package gcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"play-entitlements/internal/common/gcp"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// Request is one purchases call seen by FakePlay.
type Request struct {
	Method      string
	Kind        string // "subscriptions" or "products"
	PackageName string
	ProductID   string
	Token       string
	Acknowledge bool
}

// FakePlay serves the purchases endpoints of the Play Developer API from
// memory. Unknown tokens answer 410 Gone.
type FakePlay struct {
	Server *httptest.Server

	mu            sync.Mutex
	subscriptions map[string]*androidpublisher.SubscriptionPurchase
	products      map[string]*androidpublisher.ProductPurchase
	failures      map[string]int
	delay         time.Duration
	requests      []Request
}

func NewFakePlay(t testing.TB) *FakePlay {
	t.Helper()
	f := &FakePlay{
		subscriptions: make(map[string]*androidpublisher.SubscriptionPurchase),
		products:      make(map[string]*androidpublisher.ProductPurchase),
		failures:      make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakePlay) SetSubscription(token string, p *androidpublisher.SubscriptionPurchase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[token] = p
}

// SetActiveSubscription stores a subscription expiring at expiry.
func (f *FakePlay) SetActiveSubscription(token string, expiry time.Time) {
	f.SetSubscription(token, &androidpublisher.SubscriptionPurchase{
		Kind:             "androidpublisher#subscriptionPurchase",
		ExpiryTimeMillis: expiry.UnixMilli(),
		StartTimeMillis:  expiry.Add(-30 * 24 * time.Hour).UnixMilli(),
		AutoRenewing:     true,
	})
}

func (f *FakePlay) SetProduct(token string, p *androidpublisher.ProductPurchase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[token] = p
}

// Fail makes every call for token answer with status.
func (f *FakePlay) Fail(token string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[token] = status
}

func (f *FakePlay) Remove(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, token)
	delete(f.products, token)
	delete(f.failures, token)
}

// SetDelay holds every response for d or until the request is cancelled.
func (f *FakePlay) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *FakePlay) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *FakePlay) Calls() int {
	return len(f.Requests())
}

// Acknowledged lists the tokens acknowledged so far.
func (f *FakePlay) Acknowledged() []string {
	var tokens []string
	for _, r := range f.Requests() {
		if r.Acknowledge {
			tokens = append(tokens, r.Token)
		}
	}
	return tokens
}

// Service returns an androidpublisher client pointed at the fake.
func (f *FakePlay) Service(t testing.TB) *androidpublisher.Service {
	t.Helper()
	svc, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(f.Server.URL+"/"),
		option.WithHTTPClient(f.Server.Client()),
	)
	if err != nil {
		t.Fatalf("androidpublisher client: %v", err)
	}
	return svc
}

func (f *FakePlay) Provider(t testing.TB) *gcp.CredentialProvider {
	return gcp.NewStaticProvider(f.Service(t))
}

func (f *FakePlay) serveHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := parsePath(r.Method, r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	delay := f.delay
	status, failing := f.failures[req.Token]
	sub := f.subscriptions[req.Token]
	prod := f.products[req.Token]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if failing {
		writeError(w, status, http.StatusText(status))
		return
	}

	var body interface{}
	switch {
	case req.Kind == "subscriptions" && sub != nil:
		body = sub
	case req.Kind == "products" && prod != nil:
		body = prod
	default:
		writeError(w, http.StatusGone, "The purchase token is no longer valid.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if req.Acknowledge {
		_, _ = w.Write([]byte("{}"))
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// parsePath reads
// /androidpublisher/v3/applications/{pkg}/purchases/{kind}/{id}/tokens/{token}[:acknowledge]
func parsePath(method, path string) (Request, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 9 || parts[0] != "androidpublisher" || parts[2] != "applications" ||
		parts[4] != "purchases" || parts[7] != "tokens" {
		return Request{}, false
	}
	token := parts[8]
	ack := false
	if strings.HasSuffix(token, ":acknowledge") {
		token = strings.TrimSuffix(token, ":acknowledge")
		ack = true
	}
	return Request{
		Method:      method,
		Kind:        parts[5],
		PackageName: parts[3],
		ProductID:   parts[6],
		Token:       token,
		Acknowledge: ack,
	}, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"message":%q,"domain":"global","reason":"fake"}]}}`,
		status, message, message)
}
