// internal/workers/billing/reconcile-entitlement/service.go
package reconcileentitlement

import (
	"context"
	"strconv"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/metrics"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const userCollection = "users"

// Service converges a user's entitlement record on a canonical status.
// It does not retry; callers own redelivery.
type Service struct {
	store     store.EntitlementStore
	cache     CacheInvalidator
	publisher Publisher
	claims    ClaimSyncer
	logger    logger.Logger
	obs       *observability.Observability
	now       func() time.Time
}

func NewService(deps ServiceDependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     deps.Store,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		claims:    deps.Claims,
		logger:    deps.Logger.WithFields(map[string]interface{}{"component": "reconciler"}),
		obs:       deps.Observability,
		now:       now,
	}
}

// Derive computes the entitlement fields for status. It has no side effects.
func Derive(userID string, status *models.CanonicalStatus, source models.Source, now time.Time) *models.EntitlementRecord {
	rec := &models.EntitlementRecord{
		UserID:         userID,
		IsPro:          status.Active,
		LastVerifiedAt: now.UTC(),
		LastSource:     source,
		ProductID:      status.ProductRef.ProductID,
		PurchaseToken:  status.Token,
	}
	if status.ExpiryTime != nil {
		expiry := status.ExpiryTime.UTC()
		rec.ExpiresAt = &expiry
	}
	return rec
}

// Reconcile writes the entitlement derived from status. Repeating it with
// the same status leaves the record unchanged apart from lastVerifiedAt.
func (s *Service) Reconcile(ctx context.Context, userID string, status *models.CanonicalStatus, source models.Source) (rec *models.EntitlementRecord, err error) {
	if userID == "" {
		return nil, errors.NewValidationError("userId is required")
	}
	if status == nil {
		return nil, errors.NewValidationError("canonical status is required")
	}

	ctx, span := observability.StartSpan(ctx, "entitlement.reconcile",
		attribute.String("source", string(source)),
		attribute.Bool("is_pro", status.Active),
	)
	defer func() { observability.EndSpan(span, err) }()

	rec = Derive(userID, status, source, s.now())
	if err := s.store.UpsertEntitlement(ctx, rec); err != nil {
		return nil, errors.NewStoreWriteError(userCollection, err)
	}

	metrics.Reconciliations.WithLabelValues(string(source), strconv.FormatBool(rec.IsPro)).Inc()
	s.obs.RecordReconciled(ctx, string(source), rec.IsPro)
	s.logger.Info("Entitlement reconciled", map[string]interface{}{
		"userId":    userID,
		"isPro":     rec.IsPro,
		"source":    string(source),
		"productId": rec.ProductID,
	})

	s.afterWrite(ctx, rec)
	return rec, nil
}

// afterWrite runs the best-effort side effects of a successful write.
func (s *Service) afterWrite(ctx context.Context, rec *models.EntitlementRecord) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, rec); err != nil {
			s.logger.Warn("Failed to invalidate entitlement cache", map[string]interface{}{
				"userId": rec.UserID,
				"error":  err.Error(),
			})
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEntitlementChange(ctx, rec); err != nil {
			s.logger.Warn("Failed to publish entitlement change", map[string]interface{}{
				"userId": rec.UserID,
				"error":  err.Error(),
			})
		}
	}
	if s.claims != nil {
		if err := s.claims.SyncProClaim(ctx, rec.UserID, rec.IsPro); err != nil {
			s.logger.Warn("Failed to sync pro claim", map[string]interface{}{
				"userId": rec.UserID,
				"error":  err.Error(),
			})
		}
	}
}
