// internal/common/auth/auth.go
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/errors"

	firebase "firebase.google.com/go"
	fbauth "firebase.google.com/go/auth"
)

// SharedKeyHeader carries the shared secret for the shared_key provider.
const SharedKeyHeader = "x-verify-key"

// Identity is an authenticated caller. An empty Subject means the caller
// is trusted to act for any user.
type Identity struct {
	Subject  string
	Provider string
}

// Authenticator identifies the caller of an HTTP request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// Authorize checks that id may act on userID.
func Authorize(id *Identity, userID string) error {
	if id == nil {
		return errors.NewUnauthenticatedError("no caller identity")
	}
	if id.Subject != "" && id.Subject != userID {
		return errors.NewForbiddenError(fmt.Sprintf("caller %s may not act on user %s", id.Subject, userID))
	}
	return nil
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// New builds the authenticator selected by cfg.Provider. app is only
// needed for the firebase provider.
func New(ctx context.Context, cfg config.AuthConfig, app *firebase.App) (Authenticator, error) {
	switch cfg.Provider {
	case "", config.AuthNone:
		return NoneAuthenticator{}, nil
	case config.AuthSharedKey:
		return NewSharedKeyAuthenticator(cfg.SharedKey), nil
	case config.AuthKeycloak:
		kc := cfg.Keycloak
		return NewKeycloakAuthenticator(NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret)), nil
	case config.AuthFirebase:
		if app == nil {
			return nil, fmt.Errorf("firebase auth requires a firebase app")
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase auth client: %w", err)
		}
		return NewFirebaseAuthenticator(client), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Provider)
	}
}

// NoneAuthenticator trusts every caller.
type NoneAuthenticator struct{}

func (NoneAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	return &Identity{Provider: config.AuthNone}, nil
}

// SharedKeyAuthenticator accepts callers presenting the configured key.
type SharedKeyAuthenticator struct {
	key []byte
}

func NewSharedKeyAuthenticator(key string) *SharedKeyAuthenticator {
	return &SharedKeyAuthenticator{key: []byte(key)}
}

func (a *SharedKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	presented := r.Header.Get(SharedKeyHeader)
	if presented == "" || len(a.key) == 0 {
		return nil, errors.NewUnauthenticatedError("missing " + SharedKeyHeader + " header")
	}
	if subtle.ConstantTimeCompare([]byte(presented), a.key) != 1 {
		return nil, errors.NewUnauthenticatedError("invalid " + SharedKeyHeader + " header")
	}
	return &Identity{Provider: config.AuthSharedKey}, nil
}

// IDTokenVerifier is the part of the Firebase auth client used here.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseAuthenticator accepts Firebase ID tokens; the subject is the uid.
type FirebaseAuthenticator struct {
	verifier IDTokenVerifier
}

func NewFirebaseAuthenticator(verifier IDTokenVerifier) *FirebaseAuthenticator {
	return &FirebaseAuthenticator{verifier: verifier}
}

func (a *FirebaseAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	raw, ok := BearerToken(r)
	if !ok {
		return nil, errors.NewUnauthenticatedError("missing bearer token")
	}
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, errors.NewUnauthenticatedError("invalid ID token: " + err.Error())
	}
	return &Identity{Subject: token.UID, Provider: config.AuthFirebase}, nil
}

// KeycloakAuthenticator accepts Keycloak access tokens; the subject is sub.
type KeycloakAuthenticator struct {
	client *KeycloakClient
}

func NewKeycloakAuthenticator(client *KeycloakClient) *KeycloakAuthenticator {
	return &KeycloakAuthenticator{client: client}
}

func (a *KeycloakAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	raw, ok := BearerToken(r)
	if !ok {
		return nil, errors.NewUnauthenticatedError("missing bearer token")
	}
	info, err := a.client.ValidateToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, errors.NewUnauthenticatedError("access token has no subject")
	}
	return &Identity{Subject: info.Sub, Provider: config.AuthKeycloak}, nil
}
