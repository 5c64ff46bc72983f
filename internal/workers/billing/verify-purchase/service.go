// internal/workers/billing/verify-purchase/service.go
package verifypurchase

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/metrics"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
)

const (
	purchaseStatePurchased   = 0
	acknowledgementConfirmed = 1
)

// Service is the purchase verifier. It holds no per-purchase state.
type Service struct {
	config  *Config
	clients ClientProvider
	limiter *rate.Limiter
	logger  logger.Logger
	obs     *observability.Observability
	now     func() time.Time
}

func NewService(deps ServiceDependencies, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		config:  cfg,
		clients: deps.Clients,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		logger:  deps.Logger.WithFields(map[string]interface{}{"component": "purchase-verifier"}),
		obs:     deps.Observability,
		now:     now,
	}
}

// Verify fetches the canonical status of token. Errors are StandardErrors
// with codes BILLING_AUTH_FAILED, PURCHASE_NOT_FOUND, BILLING_UNAVAILABLE,
// BILLING_TIMEOUT or VALIDATION_FAILED.
func (s *Service) Verify(ctx context.Context, ref models.ProductRef, token string) (status *models.CanonicalStatus, err error) {
	if err := validateRequest(ref, token); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "billing.verify",
		attribute.String("product.kind", string(ref.Kind)),
		attribute.String("product.id", ref.ProductID),
	)
	started := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		metrics.VerifierCalls.WithLabelValues(string(ref.Kind), outcome).Inc()
		metrics.VerifierDuration.WithLabelValues(string(ref.Kind)).Observe(time.Since(started).Seconds())
		s.obs.RecordVerifyDuration(ctx, time.Since(started), outcome)
		observability.EndSpan(span, err)
	}()

	svc, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.limiter.Wait(callCtx); err != nil {
		return nil, errors.NewTimeoutError("androidpublisher", err)
	}

	if ref.IsSubscription() {
		purchase, err := svc.Purchases.Subscriptions.Get(ref.PackageName, ref.ProductID, token).Context(callCtx).Do()
		if err != nil {
			return nil, s.classify(callCtx, token, err)
		}
		return normalizeSubscription(ref, token, purchase, s.now()), nil
	}

	purchase, err := svc.Purchases.Products.Get(ref.PackageName, ref.ProductID, token).Context(callCtx).Do()
	if err != nil {
		return nil, s.classify(callCtx, token, err)
	}
	return normalizeProduct(ref, token, purchase, s.now()), nil
}

// Acknowledge confirms the purchase to the provider. Unacknowledged
// purchases are refunded by Play after three days.
func (s *Service) Acknowledge(ctx context.Context, ref models.ProductRef, token string) error {
	if err := validateRequest(ref, token); err != nil {
		return err
	}

	svc, err := s.client(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.limiter.Wait(callCtx); err != nil {
		return errors.NewTimeoutError("androidpublisher", err)
	}

	if ref.IsSubscription() {
		err = svc.Purchases.Subscriptions.Acknowledge(ref.PackageName, ref.ProductID, token,
			&androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).Context(callCtx).Do()
	} else {
		err = svc.Purchases.Products.Acknowledge(ref.PackageName, ref.ProductID, token,
			&androidpublisher.ProductPurchasesAcknowledgeRequest{}).Context(callCtx).Do()
	}
	if err != nil {
		return s.classify(callCtx, token, err)
	}
	return nil
}

func (s *Service) client(ctx context.Context) (*androidpublisher.Service, error) {
	if s.clients == nil {
		return nil, errors.NewAuthError(stderrors.New("no billing client provider configured"))
	}
	svc, err := s.clients.AndroidPublisher(ctx)
	if err != nil {
		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			return nil, err
		}
		return nil, errors.NewAuthError(err)
	}
	return svc, nil
}

func validateRequest(ref models.ProductRef, token string) error {
	var missing []string
	if strings.TrimSpace(ref.PackageName) == "" {
		missing = append(missing, "packageName")
	}
	if strings.TrimSpace(ref.ProductID) == "" {
		missing = append(missing, "productId")
	}
	if strings.TrimSpace(token) == "" {
		missing = append(missing, "purchaseToken")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("missing " + strings.Join(missing, ", "))
	}
	switch ref.Kind {
	case models.ProductKindSubscription, models.ProductKindOneTime:
		return nil
	default:
		return errors.NewValidationError("unknown product kind " + string(ref.Kind))
	}
}

// classify maps a provider failure onto the verifier error taxonomy.
func (s *Service) classify(ctx context.Context, token string, err error) error {
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return errors.NewAuthError(err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
			return errors.NewTransientError(err)
		case gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return errors.NewNotFoundError(token, err)
		default:
			s.logger.Warn("Unexpected billing provider status, treating as permanent", map[string]interface{}{
				"status": gerr.Code,
				"error":  gerr.Message,
			})
			return errors.NewNotFoundError(token, err)
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError("androidpublisher", err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError("androidpublisher", err)
	}
	return errors.NewTransientError(err)
}

func normalizeSubscription(ref models.ProductRef, token string, p *androidpublisher.SubscriptionPurchase, now time.Time) *models.CanonicalStatus {
	var expiry *time.Time
	if p.ExpiryTimeMillis > 0 {
		t := time.UnixMilli(p.ExpiryTimeMillis).UTC()
		expiry = &t
	}
	return &models.CanonicalStatus{
		Active:       models.SubscriptionActive(expiry, now),
		ExpiryTime:   expiry,
		Acknowledged: p.AcknowledgementState == acknowledgementConfirmed,
		ProductRef:   ref,
		Token:        token,
		VerifiedAt:   now,
		Raw:          toRaw(p),
	}
}

func normalizeProduct(ref models.ProductRef, token string, p *androidpublisher.ProductPurchase, now time.Time) *models.CanonicalStatus {
	return &models.CanonicalStatus{
		Active:       p.PurchaseState == purchaseStatePurchased,
		Acknowledged: p.AcknowledgementState == acknowledgementConfirmed,
		ProductRef:   ref,
		Token:        token,
		VerifiedAt:   now,
		Raw:          toRaw(p),
	}
}

func toRaw(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errors.CodeOf(err)))
}
