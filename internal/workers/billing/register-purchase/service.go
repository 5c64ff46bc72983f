// internal/workers/billing/register-purchase/service.go
package registerpurchase

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/metrics"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"
	"play-entitlements/pkg/registry"
)

const mappingCollection = "play_purchases"

type Service struct {
	config     *Config
	verifier   Verifier
	mappings   store.TokenMappingStore
	reconciler Reconciler
	catalog    *registry.ProductRegistry
	logger     logger.Logger
	now        func() time.Time
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
		config:     cfg,
		verifier:   deps.Verifier,
		mappings:   deps.Mappings,
		reconciler: deps.Reconciler,
		catalog:    deps.Catalog,
		logger:     deps.Logger.WithFields(map[string]interface{}{"component": "registration"}),
		now:        now,
	}
}

// Execute verifies a client-reported purchase, records who owns the token
// and reconciles the owner's entitlement. Nothing is written when
// verification fails.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	output, err := s.execute(ctx, input)
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.CodeOf(err)))
	}
	metrics.Registrations.WithLabelValues(outcome).Inc()
	return output, err
}

func (s *Service) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, errors.NewValidationError("request body is required")
	}
	in := *input
	in.UserID = strings.TrimSpace(in.UserID)
	in.Token = strings.TrimSpace(in.Token)
	if in.ProductRef.PackageName == "" {
		in.ProductRef.PackageName = s.config.DefaultPackageName
	}

	if err := validateInput(&in); err != nil {
		return nil, err
	}
	ref, err := s.resolveKind(in.ProductRef)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"userId":    in.UserID,
		"productId": ref.ProductID,
		"kind":      string(ref.Kind),
	})

	status, err := s.verifier.Verify(ctx, ref, in.Token)
	if err != nil {
		log.Warn("Purchase verification failed", map[string]interface{}{
			"errorCode": string(errors.CodeOf(err)),
			"error":     err.Error(),
		})
		return nil, err
	}

	s.checkOwner(ctx, log, in.Token, in.UserID)

	if err := s.mappings.UpsertMapping(ctx, in.Token, models.MappingUpdate{
		UserID:     in.UserID,
		ProductRef: &ref,
		RawStatus:  status.Raw,
		UpdatedAt:  s.now(),
	}); err != nil {
		return nil, errors.NewStoreWriteError(mappingCollection, err)
	}

	rec, err := s.reconciler.Reconcile(ctx, in.UserID, status, models.SourceRegistration)
	if err != nil {
		return nil, err
	}

	if s.config.AcknowledgePurchases && status.Active && !status.Acknowledged {
		if err := s.verifier.Acknowledge(ctx, ref, in.Token); err != nil {
			log.Warn("Failed to acknowledge purchase", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	log.Info("Purchase registered", map[string]interface{}{
		"isPro":  rec.IsPro,
		"active": status.Active,
	})

	return &Output{OK: true, CanonicalStatus: status, IsPro: rec.IsPro}, nil
}

// checkOwner warns when a token is re-registered by a different user. The
// latest registration still wins.
func (s *Service) checkOwner(ctx context.Context, log logger.Logger, token, userID string) {
	existing, err := s.mappings.GetMapping(ctx, token)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		log.Debug("Could not read existing token mapping", map[string]interface{}{
			"error": err.Error(),
		})
	case existing.UserID != "" && existing.UserID != userID:
		log.Warn("Purchase token re-registered by a different user", map[string]interface{}{
			"previousUserId": existing.UserID,
		})
	}
}
