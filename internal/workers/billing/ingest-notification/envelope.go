// internal/workers/billing/ingest-notification/envelope.go
package ingestnotification

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/models"
)

// maxUnwrapLevels bounds how many base64 data layers are peeled off.
const maxUnwrapLevels = 2

// DeveloperNotification is the RTDN payload published by Play. Exactly one
// of the typed members is normally set; the flat fields cover publishers
// that send a bare subscription notification.
type DeveloperNotification struct {
	Version                    string                      `json:"version"`
	PackageName                string                      `json:"packageName"`
	EventTimeMillis            millis                      `json:"eventTimeMillis"`
	SubscriptionNotification   *SubscriptionNotification   `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification *OneTimeProductNotification `json:"oneTimeProductNotification,omitempty"`
	VoidedPurchaseNotification *VoidedPurchaseNotification `json:"voidedPurchaseNotification,omitempty"`
	TestNotification           *TestNotification           `json:"testNotification,omitempty"`

	NotificationType *int   `json:"notificationType,omitempty"`
	PurchaseToken    string `json:"purchaseToken,omitempty"`
	SubscriptionID   string `json:"subscriptionId,omitempty"`
}

// millis accepts epoch milliseconds as a JSON string or number.
type millis string

func (m *millis) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = millis(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = millis(n.String())
	return nil
}

type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

type OneTimeProductNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SKU              string `json:"sku"`
}

// VoidedPurchaseNotification reports a refund or chargeback.
type VoidedPurchaseNotification struct {
	PurchaseToken string `json:"purchaseToken"`
	OrderID       string `json:"orderId"`
	ProductType   int    `json:"productType"`
	RefundType    int    `json:"refundType"`
}

const (
	voidedProductTypeSubscription = 1
	voidedProductTypeOneTime      = 2
)

type TestNotification struct {
	Version string `json:"version"`
}

// Envelope is a decoded bus message.
type Envelope struct {
	Notification *DeveloperNotification
	MessageID    string
	PublishTime  *time.Time
}

// Notification is the tagged-union member extracted from an envelope.
type Notification struct {
	Kind      models.NotificationKind
	Type      int
	Token     string
	Ref       models.ProductRef
	EventTime *time.Time
}

type busMessage struct {
	Data         *string `json:"data"`
	MessageID    string  `json:"messageId"`
	MessageIDAlt string  `json:"message_id"`
	PublishTime  string  `json:"publishTime"`
}

type busLevel struct {
	Message *busMessage `json:"message"`
	busMessage
}

var notificationKeys = []string{
	"subscriptionNotification",
	"oneTimeProductNotification",
	"voidedPurchaseNotification",
	"testNotification",
	"packageName",
	"purchaseToken",
	"notificationType",
}

// Decode peels up to two bus layers ({"message":{"data":b64}} or
// {"data":b64}) off body and parses the developer notification inside.
func Decode(body []byte) (*Envelope, error) {
	env := &Envelope{}
	payload := body

	for level := 0; ; level++ {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, errors.NewMalformedPayloadError("payload is not a JSON object", err)
		}

		if isNotification(fields) {
			var n DeveloperNotification
			if err := json.Unmarshal(payload, &n); err != nil {
				return nil, errors.NewMalformedPayloadError("notification does not match the developer notification layout", err)
			}
			env.Notification = &n
			return env, nil
		}

		if level == maxUnwrapLevels {
			return nil, errors.NewMalformedPayloadError("no notification after unwrapping bus layers", nil)
		}

		var bl busLevel
		if err := json.Unmarshal(payload, &bl); err != nil {
			return nil, errors.NewMalformedPayloadError("bus envelope has an unexpected layout", err)
		}
		msg := &bl.busMessage
		if bl.Message != nil {
			msg = bl.Message
		}
		if msg.Data == nil {
			return nil, errors.NewMalformedPayloadError("envelope has neither a notification nor a data field", nil)
		}
		env.remember(msg)

		decoded, err := decodeBase64(*msg.Data)
		if err != nil {
			return nil, errors.NewMalformedPayloadError("data field is not base64", err)
		}
		payload = decoded
	}
}

// remember keeps the outermost message metadata.
func (e *Envelope) remember(msg *busMessage) {
	if e.MessageID == "" {
		e.MessageID = msg.MessageID
		if e.MessageID == "" {
			e.MessageID = msg.MessageIDAlt
		}
	}
	if e.PublishTime == nil && msg.PublishTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.PublishTime); err == nil {
			e.PublishTime = &t
		}
	}
}

func isNotification(fields map[string]json.RawMessage) bool {
	for _, key := range notificationKeys {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Extract returns the tagged-union member carried by n.
func (n *DeveloperNotification) Extract() Notification {
	out := Notification{Kind: models.NotificationKindUnknown, EventTime: n.eventTime()}

	switch {
	case n.SubscriptionNotification != nil:
		s := n.SubscriptionNotification
		out.Kind = models.NotificationKindSubscription
		out.Type = s.NotificationType
		out.Token = s.PurchaseToken
		out.Ref = models.ProductRef{PackageName: n.PackageName, ProductID: s.SubscriptionID, Kind: models.ProductKindSubscription}
	case n.OneTimeProductNotification != nil:
		o := n.OneTimeProductNotification
		out.Kind = models.NotificationKindOneTime
		out.Type = o.NotificationType
		out.Token = o.PurchaseToken
		out.Ref = models.ProductRef{PackageName: n.PackageName, ProductID: o.SKU, Kind: models.ProductKindOneTime}
	case n.VoidedPurchaseNotification != nil:
		v := n.VoidedPurchaseNotification
		out.Kind = models.NotificationKindVoided
		out.Token = v.PurchaseToken
		out.Ref = models.ProductRef{PackageName: n.PackageName}
		switch v.ProductType {
		case voidedProductTypeSubscription:
			out.Ref.Kind = models.ProductKindSubscription
		case voidedProductTypeOneTime:
			out.Ref.Kind = models.ProductKindOneTime
		}
	case n.TestNotification != nil:
		out.Kind = models.NotificationKindTest
	case n.NotificationType != nil || n.PurchaseToken != "":
		out.Kind = models.NotificationKindSubscription
		if n.NotificationType != nil {
			out.Type = *n.NotificationType
		}
		out.Token = n.PurchaseToken
		out.Ref = models.ProductRef{PackageName: n.PackageName, ProductID: n.SubscriptionID, Kind: models.ProductKindSubscription}
	}
	return out
}

func (n *DeveloperNotification) eventTime() *time.Time {
	if n.EventTimeMillis == "" {
		return nil
	}
	ms, err := strconv.ParseInt(string(n.EventTimeMillis), 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
