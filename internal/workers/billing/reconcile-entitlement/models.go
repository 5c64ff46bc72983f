// internal/workers/billing/reconcile-entitlement/models.go
package reconcileentitlement

import (
	"context"
	"time"

	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"
)

// CacheInvalidator drops a cached entitlement after it was rewritten.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, rec *models.EntitlementRecord) error
}

// Publisher announces a rewritten entitlement to downstream consumers.
type Publisher interface {
	PublishEntitlementChange(ctx context.Context, rec *models.EntitlementRecord) error
}

// ClaimSyncer mirrors isPro onto the user's identity token claims.
type ClaimSyncer interface {
	SyncProClaim(ctx context.Context, userID string, isPro bool) error
}

type ServiceDependencies struct {
	Store         store.EntitlementStore
	Cache         CacheInvalidator
	Publisher     Publisher
	Claims        ClaimSyncer
	Logger        logger.Logger
	Observability *observability.Observability
	Now           func() time.Time
}
