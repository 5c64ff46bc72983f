// internal/api/server.go
package api

import (
	"context"
	"net/http"
	"time"

	"play-entitlements/internal/common/auth"
	"play-entitlements/internal/common/logger"
	checkentitlement "play-entitlements/internal/workers/billing/check-entitlement"
	ingestnotification "play-entitlements/internal/workers/billing/ingest-notification"
	registerpurchase "play-entitlements/internal/workers/billing/register-purchase"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const maxBodyBytes = 1 << 20

type Registrar interface {
	Execute(ctx context.Context, input *registerpurchase.Input) (*registerpurchase.Output, error)
}

type Ingester interface {
	Execute(ctx context.Context, body []byte) (*ingestnotification.Result, error)
}

type EntitlementReader interface {
	Execute(ctx context.Context, input *checkentitlement.Input) (*checkentitlement.Output, error)
}

// PushVerifier authenticates Pub/Sub push deliveries.
type PushVerifier interface {
	Verify(ctx context.Context, token string) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Registrar     Registrar
	Ingester      Ingester
	Entitlements  EntitlementReader
	Authenticator auth.Authenticator
	PushVerifier  PushVerifier
	Readiness     map[string]ReadinessCheck
	Logger        logger.Logger
}

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Server struct {
	registrar    Registrar
	ingester     Ingester
	entitlements EntitlementReader
	authn        auth.Authenticator
	push         PushVerifier
	readiness    map[string]ReadinessCheck
	logger       logger.Logger
	opts         Options
}

func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Authenticator == nil {
		deps.Authenticator = auth.NoneAuthenticator{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		registrar:    deps.Registrar,
		ingester:     deps.Ingester,
		entitlements: deps.Entitlements,
		authn:        deps.Authenticator,
		push:         deps.PushVerifier,
		readiness:    deps.Readiness,
		logger:       deps.Logger.WithFields(map[string]interface{}{"component": "http"}),
		opts:         opts,
	}
}

// Routes returns the full handler tree.
func (s *Server) Routes() http.Handler {
	standard := alice.New(s.recoverPanic, requestID, s.logRequest)
	api := standard.Append(makeResponseJSON)

	mux := pat.New()

	mux.Post("/v1/purchases/verify", api.Then(s.instrument("register", s.handleRegister)))
	mux.Post("/verifyPurchase", api.Then(s.instrument("register_legacy", s.handleRegister)))
	mux.Post("/v1/notifications/play", standard.Then(s.instrument("notification", s.handleNotification)))
	mux.Get("/v1/entitlements/:userId", api.Then(s.instrument("entitlement", s.handleEntitlement)))

	mux.Get("/health", api.ThenFunc(s.handleHealth))
	mux.Get("/ready", api.ThenFunc(s.handleReady))
	mux.Get("/metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.SharedKeyHeader},
	})
	return c.Handler(mux)
}
