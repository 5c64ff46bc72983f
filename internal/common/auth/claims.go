// internal/common/auth/claims.go
package auth

import (
	"context"
	"fmt"

	fbauth "firebase.google.com/go/auth"
)

// ProClaim is the custom claim clients read to unlock pro features without
// a round trip to the entitlement API.
const ProClaim = "pro"

// ClaimsAPI is the part of the Firebase auth client the claim syncer uses.
type ClaimsAPI interface {
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
}

// ProClaimSyncer mirrors a user's entitlement into the "pro" custom claim.
// Other claims on the user (admin and the like) are kept.
type ProClaimSyncer struct {
	client ClaimsAPI
}

func NewProClaimSyncer(client ClaimsAPI) *ProClaimSyncer {
	return &ProClaimSyncer{client: client}
}

// SyncProClaim writes the claim only when it differs from isPro. Claims are
// replaced wholesale by Firebase, hence the read first.
func (s *ProClaimSyncer) SyncProClaim(ctx context.Context, userID string, isPro bool) error {
	user, err := s.client.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", userID, err)
	}

	claims := make(map[string]interface{}, len(user.CustomClaims)+1)
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	if current, ok := claims[ProClaim].(bool); ok && current == isPro {
		return nil
	}
	claims[ProClaim] = isPro

	if err := s.client.SetCustomUserClaims(ctx, userID, claims); err != nil {
		return fmt.Errorf("set claims for %s: %w", userID, err)
	}
	return nil
}
