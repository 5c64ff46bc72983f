// internal/models/notification.go
package models

import "time"

type NotificationKind string

const (
	NotificationKindSubscription NotificationKind = "subscription"
	NotificationKindOneTime      NotificationKind = "one_time_product"
	NotificationKindVoided       NotificationKind = "voided_purchase"
	NotificationKindTest         NotificationKind = "test"
	NotificationKindUnknown      NotificationKind = "unknown"
)

// NotificationSummary is what the token mapping remembers about the last
// notification that re-verified it.
type NotificationSummary struct {
	Kind       NotificationKind `json:"kind"`
	Type       int              `json:"type"`
	TypeName   string           `json:"typeName,omitempty"`
	MessageID  string           `json:"messageId,omitempty"`
	EventTime  *time.Time       `json:"eventTime,omitempty"`
	ReceivedAt time.Time        `json:"receivedAt"`
}

var subscriptionNotificationTypes = map[int]string{
	1:  "SUBSCRIPTION_RECOVERED",
	2:  "SUBSCRIPTION_RENEWED",
	3:  "SUBSCRIPTION_CANCELED",
	4:  "SUBSCRIPTION_PURCHASED",
	5:  "SUBSCRIPTION_ON_HOLD",
	6:  "SUBSCRIPTION_IN_GRACE_PERIOD",
	7:  "SUBSCRIPTION_RESTARTED",
	8:  "SUBSCRIPTION_PRICE_CHANGE_CONFIRMED",
	9:  "SUBSCRIPTION_DEFERRED",
	10: "SUBSCRIPTION_PAUSED",
	11: "SUBSCRIPTION_PAUSE_SCHEDULE_CHANGED",
	12: "SUBSCRIPTION_REVOKED",
	13: "SUBSCRIPTION_EXPIRED",
	20: "SUBSCRIPTION_PENDING_PURCHASE_CANCELED",
}

var oneTimeProductNotificationTypes = map[int]string{
	1: "ONE_TIME_PRODUCT_PURCHASED",
	2: "ONE_TIME_PRODUCT_CANCELED",
}

// NotificationTypeName returns the provider's name for a notification type,
// or "" when the type is not known.
func NotificationTypeName(kind NotificationKind, notificationType int) string {
	switch kind {
	case NotificationKindSubscription:
		return subscriptionNotificationTypes[notificationType]
	case NotificationKindOneTime:
		return oneTimeProductNotificationTypes[notificationType]
	case NotificationKindVoided:
		return "PURCHASE_VOIDED"
	case NotificationKindTest:
		return "TEST"
	default:
		return ""
	}
}
