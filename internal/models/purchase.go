// internal/models/purchase.go
package models

import "time"

type ProductKind string

const (
	ProductKindSubscription ProductKind = "subscription"
	ProductKindOneTime      ProductKind = "product"
)

// ProductRef identifies what a purchase token was issued for.
type ProductRef struct {
	PackageName string      `json:"packageName"`
	ProductID   string      `json:"productId"`
	Kind        ProductKind `json:"kind,omitempty"`
}

func (r ProductRef) IsSubscription() bool {
	return r.Kind == ProductKindSubscription
}

func (r ProductRef) IsZero() bool {
	return r.PackageName == "" && r.ProductID == "" && r.Kind == ""
}

// Complete reports whether the billing provider can be queried with r.
func (r ProductRef) Complete() bool {
	return r.PackageName != "" && r.ProductID != "" && r.Kind != ""
}

// Merge returns r with every empty field taken from fallback.
func (r ProductRef) Merge(fallback ProductRef) ProductRef {
	if r.PackageName == "" {
		r.PackageName = fallback.PackageName
	}
	if r.ProductID == "" {
		r.ProductID = fallback.ProductID
	}
	if r.Kind == "" {
		r.Kind = fallback.Kind
	}
	return r
}

// CanonicalStatus is the billing provider's view of one purchase token at
// VerifiedAt. It is never stored on its own.
type CanonicalStatus struct {
	Active       bool                   `json:"active"`
	ExpiryTime   *time.Time             `json:"expiryTime,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
	NotFound     bool                   `json:"notFound,omitempty"`
	ProductRef   ProductRef             `json:"productRef"`
	Token        string                 `json:"-"`
	VerifiedAt   time.Time              `json:"verifiedAt"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// SubscriptionActive is the active predicate for time-bound purchases.
func SubscriptionActive(expiry *time.Time, now time.Time) bool {
	return expiry != nil && expiry.After(now)
}

// InactiveStatus stands in for a purchase the provider no longer knows.
func InactiveStatus(ref ProductRef, token string, now time.Time, reason string) *CanonicalStatus {
	return &CanonicalStatus{
		Active:     false,
		NotFound:   true,
		ProductRef: ref,
		Token:      token,
		VerifiedAt: now,
		Raw: map[string]interface{}{
			"notFound": true,
			"reason":   reason,
		},
	}
}

// TokenMappingRecord ties a purchase token to the user who registered it.
type TokenMappingRecord struct {
	Token            string                 `json:"token"`
	UserID           string                 `json:"userId"`
	ProductRef       ProductRef             `json:"productRef"`
	RawStatus        map[string]interface{} `json:"rawStatus,omitempty"`
	LastNotification *NotificationSummary   `json:"lastNotification,omitempty"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// MappingUpdate is a merge-write: zero-valued fields leave the stored
// document untouched.
type MappingUpdate struct {
	UserID           string
	ProductRef       *ProductRef
	RawStatus        map[string]interface{}
	LastNotification *NotificationSummary
	UpdatedAt        time.Time
}
