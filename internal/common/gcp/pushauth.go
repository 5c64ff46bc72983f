// internal/common/gcp/pushauth.go
package gcp

import (
	"context"
	"fmt"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/errors"

	"google.golang.org/api/idtoken"
)

type tokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PushVerifier checks the OIDC token Pub/Sub attaches to push requests.
type PushVerifier struct {
	audience       string
	serviceAccount string
	validate       tokenValidator
}

// NewPushVerifier returns nil when push-token verification is disabled.
func NewPushVerifier(cfg config.PubSubConfig) *PushVerifier {
	if !cfg.VerifyPushToken {
		return nil
	}
	return &PushVerifier{
		audience:       cfg.PushAudience,
		serviceAccount: cfg.PushServiceAccount,
		validate:       idtoken.Validate,
	}
}

// Verify validates a bearer token. A nil verifier accepts everything.
func (v *PushVerifier) Verify(ctx context.Context, token string) error {
	if v == nil {
		return nil
	}
	if token == "" {
		return errors.NewUnauthenticatedError("push request carries no bearer token")
	}

	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		return errors.NewUnauthenticatedError("invalid push token: " + err.Error())
	}

	if v.serviceAccount == "" {
		return nil
	}
	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email != v.serviceAccount || !verified {
		return errors.NewUnauthenticatedError(fmt.Sprintf("push token issued to unexpected account %q", email))
	}
	return nil
}
