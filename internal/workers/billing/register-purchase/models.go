// internal/workers/billing/register-purchase/models.go
package registerpurchase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/models"
	"play-entitlements/internal/store"
	"play-entitlements/pkg/registry"
)

// Input is a normalized registration request.
type Input struct {
	UserID     string            `json:"userId"`
	ProductRef models.ProductRef `json:"productRef"`
	Token      string            `json:"token"`
}

type Output struct {
	OK              bool                    `json:"ok"`
	CanonicalStatus *models.CanonicalStatus `json:"canonicalStatus"`
	IsPro           bool                    `json:"isPro"`
}

// request accepts both the nested body and the flat body older clients send:
// {uid, packageName, subscriptionId|productId, purchaseToken}.
type request struct {
	UserID     string `json:"userId"`
	ProductRef *struct {
		PackageName    string `json:"packageName"`
		ProductID      string `json:"productId"`
		SubscriptionID string `json:"subscriptionId"`
		Kind           string `json:"kind"`
	} `json:"productRef"`
	Token string `json:"token"`

	UID            string `json:"uid"`
	PackageName    string `json:"packageName"`
	SubscriptionID string `json:"subscriptionId"`
	ProductID      string `json:"productId"`
	PurchaseToken  string `json:"purchaseToken"`
}

// DecodeInput parses a registration body in either layout. Field presence
// is checked later, by Execute.
func DecodeInput(body []byte) (*Input, error) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.NewValidationError("request body is not a JSON object")
	}

	in := &Input{
		UserID: firstNonEmpty(req.UserID, req.UID),
		Token:  firstNonEmpty(req.Token, req.PurchaseToken),
	}
	if req.ProductRef != nil {
		in.ProductRef = models.ProductRef{
			PackageName: strings.TrimSpace(req.ProductRef.PackageName),
			ProductID:   strings.TrimSpace(req.ProductRef.ProductID),
			Kind:        models.ProductKind(strings.TrimSpace(req.ProductRef.Kind)),
		}
		if in.ProductRef.ProductID == "" && strings.TrimSpace(req.ProductRef.SubscriptionID) != "" {
			in.ProductRef.ProductID = strings.TrimSpace(req.ProductRef.SubscriptionID)
			if in.ProductRef.Kind == "" {
				in.ProductRef.Kind = models.ProductKindSubscription
			}
		}
	}
	if in.ProductRef.PackageName == "" {
		in.ProductRef.PackageName = strings.TrimSpace(req.PackageName)
	}
	if in.ProductRef.ProductID == "" {
		switch {
		case strings.TrimSpace(req.SubscriptionID) != "":
			in.ProductRef.ProductID = strings.TrimSpace(req.SubscriptionID)
			if in.ProductRef.Kind == "" {
				in.ProductRef.Kind = models.ProductKindSubscription
			}
		case strings.TrimSpace(req.ProductID) != "":
			in.ProductRef.ProductID = strings.TrimSpace(req.ProductID)
		}
	}
	return in, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Verifier is the purchase verifier as registration uses it.
type Verifier interface {
	Verify(ctx context.Context, ref models.ProductRef, token string) (*models.CanonicalStatus, error)
	Acknowledge(ctx context.Context, ref models.ProductRef, token string) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string, status *models.CanonicalStatus, source models.Source) (*models.EntitlementRecord, error)
}

type ServiceDependencies struct {
	Verifier   Verifier
	Mappings   store.TokenMappingStore
	Reconciler Reconciler
	Catalog    *registry.ProductRegistry
	Logger     logger.Logger
	Now        func() time.Time
}
