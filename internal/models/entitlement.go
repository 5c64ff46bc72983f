// internal/models/entitlement.go
package models

import "time"

type Source string

const (
	SourceRegistration Source = "registration"
	SourceNotification Source = "notification"
)

// EntitlementRecord holds only the entitlement fields of a user document.
type EntitlementRecord struct {
	UserID         string     `json:"userId"`
	IsPro          bool       `json:"isPro"`
	LastVerifiedAt time.Time  `json:"lastVerifiedAt"`
	LastSource     Source     `json:"lastSource"`
	ExpiresAt      *time.Time `json:"proExpiresAt"`
	ProductID      string     `json:"proProductId"`
	PurchaseToken  string     `json:"proPurchaseToken"`
}

// Equivalent compares two records ignoring LastVerifiedAt.
func (r *EntitlementRecord) Equivalent(other *EntitlementRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.UserID != other.UserID || r.IsPro != other.IsPro || r.LastSource != other.LastSource ||
		r.ProductID != other.ProductID || r.PurchaseToken != other.PurchaseToken {
		return false
	}
	switch {
	case r.ExpiresAt == nil && other.ExpiresAt == nil:
		return true
	case r.ExpiresAt == nil || other.ExpiresAt == nil:
		return false
	default:
		return r.ExpiresAt.Equal(*other.ExpiresAt)
	}
}
