// internal/workers/billing/ingest-notification/models.go
package ingestnotification

import (
	"context"
	"time"

	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"
)

// Outcomes of a notification that is acknowledged.
const (
	OutcomeReconciled   = "reconciled"
	OutcomeMalformed    = "malformed"
	OutcomeTest         = "test"
	OutcomeIgnored      = "ignored"
	OutcomeNoToken      = "no_token"
	OutcomeUnmapped     = "unmapped"
	OutcomeUnverifiable = "unverifiable"
)

// Result describes an acknowledged notification.
type Result struct {
	Outcome string                  `json:"outcome"`
	Kind    models.NotificationKind `json:"kind,omitempty"`
	Token   string                  `json:"purchaseToken,omitempty"`
	UserID  string                  `json:"userId,omitempty"`
	IsPro   *bool                   `json:"isPro,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, ref models.ProductRef, token string) (*models.CanonicalStatus, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string, status *models.CanonicalStatus, source models.Source) (*models.EntitlementRecord, error)
}

type ServiceDependencies struct {
	Verifier      Verifier
	Mappings      store.TokenMappingStore
	Reconciler    Reconciler
	Logger        logger.Logger
	Observability *observability.Observability
	Now           func() time.Time
}
