// internal/workers/billing/check-entitlement/models.go
package checkentitlement

import "time"

type Input struct {
	UserID string `json:"userId"`
}

// Output is the caller-facing view of a user's entitlement.
type Output struct {
	UserID         string     `json:"userId"`
	IsPro          bool       `json:"isPro"`
	Expired        bool       `json:"expired"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	ProductID      string     `json:"productId,omitempty"`
	LastSource     string     `json:"lastSource,omitempty"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt,omitempty"`
}
