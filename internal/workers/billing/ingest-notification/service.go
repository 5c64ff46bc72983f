// internal/workers/billing/ingest-notification/service.go
package ingestnotification

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/metrics"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const mappingCollection = "play_purchases"

// Service turns one bus message into at most one entitlement write. A nil
// error acknowledges the message; an error asks the bus to redeliver it.
type Service struct {
	config     *Config
	verifier   Verifier
	mappings   store.TokenMappingStore
	reconciler Reconciler
	logger     logger.Logger
	obs        *observability.Observability
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
		logger:     deps.Logger.WithFields(map[string]interface{}{"component": "notification-ingester"}),
		obs:        deps.Observability,
		now:        now,
	}
}

// Execute processes one raw bus envelope.
func (s *Service) Execute(ctx context.Context, body []byte) (res *Result, err error) {
	kind := models.NotificationKindUnknown
	ctx, span := observability.StartSpan(ctx, "notification.ingest")
	defer func() {
		outcome := "error"
		if res != nil {
			outcome = res.Outcome
		} else if err != nil {
			outcome = strings.ToLower(string(errors.CodeOf(err)))
		}
		metrics.NotificationsIngested.WithLabelValues(string(kind), outcome).Inc()
		s.obs.RecordNotification(ctx, string(kind), outcome)
		span.SetAttributes(attribute.String("notification.kind", string(kind)), attribute.String("outcome", outcome))
		observability.EndSpan(span, err)
	}()

	receivedAt := s.now()
	env, err := Decode(body)
	if err != nil {
		s.logger.Warn("Dropping malformed notification", map[string]interface{}{
			"error": err.Error(),
			"size":  len(body),
		})
		return &Result{Outcome: OutcomeMalformed}, nil
	}

	n := env.Notification.Extract()
	kind = n.Kind
	log := s.logger.WithFields(map[string]interface{}{
		"messageId":        env.MessageID,
		"notificationKind": string(n.Kind),
		"notificationType": n.Type,
	})

	switch n.Kind {
	case models.NotificationKindTest:
		log.Info("Test notification received", nil)
		return &Result{Outcome: OutcomeTest, Kind: n.Kind}, nil
	case models.NotificationKindUnknown:
		log.Warn("Notification carries no known member, skipping", nil)
		return &Result{Outcome: OutcomeIgnored, Kind: n.Kind}, nil
	}

	if n.Token == "" {
		log.Warn("Notification missing purchase token, skipping", nil)
		return &Result{Outcome: OutcomeNoToken, Kind: n.Kind}, nil
	}

	summary := &models.NotificationSummary{
		Kind:       n.Kind,
		Type:       n.Type,
		TypeName:   models.NotificationTypeName(n.Kind, n.Type),
		MessageID:  env.MessageID,
		EventTime:  n.EventTime,
		ReceivedAt: receivedAt,
	}

	res, err = s.reverify(ctx, log, n.Token, n.Ref, summary, env.PublishTime)
	if res != nil {
		res.Kind = n.Kind
	}
	return res, err
}

// Reverify re-runs mapping lookup, verification and reconciliation for a
// token without a bus message. hint fills gaps in the stored product ref.
func (s *Service) Reverify(ctx context.Context, token string, hint models.ProductRef) (*Result, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.NewValidationError("purchase token is required")
	}
	return s.reverify(ctx, s.logger, token, hint, nil, nil)
}

func (s *Service) reverify(ctx context.Context, log logger.Logger, token string, hint models.ProductRef,
	summary *models.NotificationSummary, publishTime *time.Time) (*Result, error) {

	mapping, err := s.mappings.GetMapping(ctx, token)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NewStoreReadError(mappingCollection, err)
	}
	if err != nil || mapping.UserID == "" {
		retry := s.withinGrace(publishTime)
		log.Warn("No user mapping for purchase token", map[string]interface{}{
			"purchaseToken": token,
			"redeliver":     retry,
		})
		if retry {
			return nil, errors.NewUnmappedTokenError(token, true)
		}
		return &Result{Outcome: OutcomeUnmapped, Token: token}, nil
	}

	ref := mapping.ProductRef.Merge(hint)
	if ref.Kind == "" {
		ref.Kind = models.ProductKindSubscription
	}
	log = log.WithFields(map[string]interface{}{
		"userId":    mapping.UserID,
		"productId": ref.ProductID,
	})
	if !ref.Complete() {
		log.Warn("Mapping lacks the product reference needed to verify, skipping", nil)
		return &Result{Outcome: OutcomeUnverifiable, Token: token, UserID: mapping.UserID}, nil
	}

	status, err := s.verifier.Verify(ctx, ref, token)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		log.Info("Purchase no longer known to billing provider, revoking", nil)
		status = models.InactiveStatus(ref, token, s.now(), "purchase token unknown to billing provider")
	case errors.IsCode(err, errors.ErrCodeValidationFailed):
		log.Warn("Billing provider rejected the product reference, skipping", map[string]interface{}{
			"error": err.Error(),
		})
		return &Result{Outcome: OutcomeUnverifiable, Token: token, UserID: mapping.UserID}, nil
	default:
		return nil, err
	}

	rec, err := s.reconciler.Reconcile(ctx, mapping.UserID, status, models.SourceNotification)
	if err != nil {
		return nil, err
	}

	update := models.MappingUpdate{
		RawStatus:        status.Raw,
		LastNotification: summary,
		UpdatedAt:        s.now(),
	}
	if ref != mapping.ProductRef {
		update.ProductRef = &ref
	}
	if err := s.mappings.UpsertMapping(ctx, token, update); err != nil {
		return nil, errors.NewStoreWriteError(mappingCollection, err)
	}

	isPro := rec.IsPro
	return &Result{Outcome: OutcomeReconciled, Token: token, UserID: mapping.UserID, IsPro: &isPro}, nil
}

func (s *Service) withinGrace(publishTime *time.Time) bool {
	if s.config.UnmappedGracePeriod <= 0 || publishTime == nil {
		return false
	}
	return s.now().Sub(*publishTime) < s.config.UnmappedGracePeriod
}
