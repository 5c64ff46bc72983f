// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"play-entitlements/internal/common/errors"
	httpclient "play-entitlements/internal/common/http"
)

// KeycloakClient validates caller access tokens by introspection.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *httpclient.Client
}

// TokenInfo holds the fields of the introspection response used here.
type TokenInfo struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string) *KeycloakClient {
	return NewKeycloakClientWith(baseURL, realm, clientID, clientSecret, httpclient.NewClient(10*time.Second))
}

func NewKeycloakClientWith(baseURL, realm, clientID, clientSecret string, client *httpclient.Client) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   client,
	}
}

// ValidateToken checks that an access token is active and returns its claims.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	resp, err := k.httpClient.PostForm(ctx, introspectURL, data)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("keycloak introspection: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.NewInternalError(fmt.Errorf("keycloak introspection failed with status %d: %s", resp.StatusCode, string(body)))
	}

	var tokenInfo TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("decode introspection response: %w", err))
	}

	if !tokenInfo.Active {
		return nil, errors.NewUnauthenticatedError("access token is expired, revoked or invalid")
	}

	return &tokenInfo, nil
}
