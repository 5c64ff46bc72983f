// internal/workers/billing/verify-purchase/models.go
package verifypurchase

import (
	"context"
	"time"

	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/models"

	"google.golang.org/api/androidpublisher/v3"
)

// Input is the job payload of the verify-purchase task.
type Input struct {
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	Kind          string `json:"kind"`
	PurchaseToken string `json:"purchaseToken"`
}

func (in *Input) ProductRef() models.ProductRef {
	return models.ProductRef{
		PackageName: in.PackageName,
		ProductID:   in.ProductID,
		Kind:        models.ProductKind(in.Kind),
	}
}

// ClientProvider supplies the authenticated Play Developer API client.
type ClientProvider interface {
	AndroidPublisher(ctx context.Context) (*androidpublisher.Service, error)
}

type ServiceDependencies struct {
	Clients       ClientProvider
	Logger        logger.Logger
	Observability *observability.Observability
	Now           func() time.Time
}

// Output is the canonical status handed back to the process.
type Output = models.CanonicalStatus
