// internal/store/document.go
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"play-entitlements/internal/models"
)

// Field names shared by every backend. The mapping document also accepts
// the flat layout (uid, packageName, subscriptionId) older deployments wrote.
const (
	fieldToken            = "token"
	fieldUserID           = "userId"
	fieldProductRef       = "productRef"
	fieldRawStatus        = "rawStatus"
	fieldLastNotification = "lastNotification"
	fieldUpdatedAt        = "updatedAt"

	fieldIsPro            = "isPro"
	fieldLastVerifiedAt   = "lastVerifiedAt"
	fieldLastSource       = "lastSource"
	fieldProExpiresAt     = "proExpiresAt"
	fieldProProductID     = "proProductId"
	fieldProPurchaseToken = "proPurchaseToken"
)

// mappingFields returns the top-level fields an update writes. Each value
// replaces the stored value of that field wholesale.
func mappingFields(token string, u models.MappingUpdate) map[string]interface{} {
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	f := map[string]interface{}{
		fieldToken:     token,
		fieldUpdatedAt: updatedAt.UTC(),
	}
	if u.UserID != "" {
		f[fieldUserID] = u.UserID
	}
	if u.ProductRef != nil {
		f[fieldProductRef] = map[string]interface{}{
			"packageName": u.ProductRef.PackageName,
			"productId":   u.ProductRef.ProductID,
			"kind":        string(u.ProductRef.Kind),
		}
	}
	if u.RawStatus != nil {
		f[fieldRawStatus] = u.RawStatus
	}
	if n := u.LastNotification; n != nil {
		summary := map[string]interface{}{
			"kind":       string(n.Kind),
			"type":       n.Type,
			"receivedAt": n.ReceivedAt.UTC(),
		}
		if n.TypeName != "" {
			summary["typeName"] = n.TypeName
		}
		if n.MessageID != "" {
			summary["messageId"] = n.MessageID
		}
		if n.EventTime != nil {
			summary["eventTime"] = n.EventTime.UTC()
		}
		f[fieldLastNotification] = summary
	}
	return f
}

// entitlementFields are the only user-document fields the reconciler owns.
func entitlementFields(rec *models.EntitlementRecord) map[string]interface{} {
	var expires interface{}
	if rec.ExpiresAt != nil {
		expires = rec.ExpiresAt.UTC()
	}
	return map[string]interface{}{
		fieldIsPro:            rec.IsPro,
		fieldLastVerifiedAt:   rec.LastVerifiedAt.UTC(),
		fieldLastSource:       string(rec.LastSource),
		fieldProExpiresAt:     expires,
		fieldProProductID:     rec.ProductID,
		fieldProPurchaseToken: rec.PurchaseToken,
	}
}

type legacyMapping struct {
	UID            string                 `json:"uid"`
	PackageName    string                 `json:"packageName"`
	SubscriptionID string                 `json:"subscriptionId"`
	ProductID      string                 `json:"productId"`
	Verification   map[string]interface{} `json:"verification"`
}

func decodeMapping(token string, doc map[string]interface{}) (*models.TokenMappingRecord, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode mapping document: %w", err)
	}
	return decodeMappingJSON(token, raw)
}

func decodeMappingJSON(token string, raw []byte) (*models.TokenMappingRecord, error) {
	var rec models.TokenMappingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode mapping document: %w", err)
	}
	var legacy legacyMapping
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode mapping document: %w", err)
	}

	rec.Token = token
	if rec.UserID == "" {
		rec.UserID = legacy.UID
	}
	if rec.ProductRef.PackageName == "" {
		rec.ProductRef.PackageName = legacy.PackageName
	}
	if rec.ProductRef.ProductID == "" {
		switch {
		case legacy.SubscriptionID != "":
			rec.ProductRef.ProductID = legacy.SubscriptionID
			rec.ProductRef.Kind = models.ProductKindSubscription
		case legacy.ProductID != "":
			rec.ProductRef.ProductID = legacy.ProductID
		}
	}
	if rec.RawStatus == nil && legacy.Verification != nil {
		rec.RawStatus = legacy.Verification
	}
	return &rec, nil
}

func decodeEntitlement(userID string, doc map[string]interface{}) (*models.EntitlementRecord, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode user document: %w", err)
	}
	return decodeEntitlementJSON(userID, raw)
}

func decodeEntitlementJSON(userID string, raw []byte) (*models.EntitlementRecord, error) {
	var rec models.EntitlementRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode user document: %w", err)
	}
	rec.UserID = userID
	return &rec, nil
}
