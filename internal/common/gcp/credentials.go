// internal/common/gcp/credentials.go
package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/common/logger"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/secretmanager/v1"
)

const AndroidPublisherScope = androidpublisher.AndroidpublisherScope

type credentialResolver func(ctx context.Context) (*google.Credentials, string, error)

type serviceFactory func(ctx context.Context, opts ...option.ClientOption) (*androidpublisher.Service, error)

// CredentialProvider hands out the Play Developer API client. The client is
// built on first use and kept for the life of the process. A failed build is
// not remembered, so the next caller tries again.
type CredentialProvider struct {
	cfg    config.CredentialsConfig
	extra  []option.ClientOption
	logger logger.Logger

	resolve    credentialResolver
	newService serviceFactory

	mu     sync.Mutex
	creds  *google.Credentials
	origin string
	svc    *androidpublisher.Service
}

// NewCredentialProvider does no I/O. extra options are appended to every
// client the provider builds (endpoint overrides in emulators and tests).
func NewCredentialProvider(cfg config.CredentialsConfig, log logger.Logger, extra ...option.ClientOption) *CredentialProvider {
	p := &CredentialProvider{
		cfg:        cfg,
		extra:      extra,
		logger:     log.WithFields(map[string]interface{}{"component": "credential-provider"}),
		newService: androidpublisher.NewService,
	}
	p.resolve = p.resolveFromConfig
	return p
}

// NewStaticProvider wraps an already constructed client.
func NewStaticProvider(svc *androidpublisher.Service) *CredentialProvider {
	return &CredentialProvider{svc: svc, origin: "static", logger: logger.NewNoOpLogger()}
}

// AndroidPublisher returns the cached client, building it on first call.
func (p *CredentialProvider) AndroidPublisher(ctx context.Context) (*androidpublisher.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.svc != nil {
		return p.svc, nil
	}

	creds, err := p.credentialsLocked(ctx)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithCredentials(creds)}, p.extra...)
	svc, err := p.newService(ctx, opts...)
	if err != nil {
		return nil, errors.NewAuthError(fmt.Errorf("create androidpublisher client: %w", err))
	}

	p.svc = svc
	p.logger.Info("Billing client initialised", map[string]interface{}{"source": p.origin})
	return svc, nil
}

// ClientOptions returns options carrying the same service account, for the
// Firebase app and Firestore client. The key JSON is passed rather than the
// token source so each client applies its own scopes. Credentials without a
// key file (metadata server) yield no options; those clients find ADC
// themselves.
func (p *CredentialProvider) ClientOptions(ctx context.Context) ([]option.ClientOption, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, err := p.credentialsLocked(ctx)
	if err != nil {
		return nil, err
	}
	if len(creds.JSON) == 0 {
		return nil, nil
	}
	return []option.ClientOption{option.WithCredentialsJSON(creds.JSON)}, nil
}

// Source reports where the cached credential came from, or "" before the
// first successful call.
func (p *CredentialProvider) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.origin
}

func (p *CredentialProvider) credentialsLocked(ctx context.Context) (*google.Credentials, error) {
	if p.creds != nil {
		return p.creds, nil
	}
	if p.resolve == nil {
		return nil, errors.NewAuthError(fmt.Errorf("no credential source configured"))
	}

	creds, origin, err := p.resolve(ctx)
	if err != nil {
		p.logger.Error("Billing credential unavailable", map[string]interface{}{
			"source": p.cfg.Source,
			"error":  err.Error(),
		})
		return nil, errors.NewAuthError(err)
	}

	p.creds = creds
	p.origin = origin
	return creds, nil
}

func (p *CredentialProvider) resolveFromConfig(ctx context.Context) (*google.Credentials, string, error) {
	switch p.cfg.Source {
	case config.CredentialsADC:
		creds, err := google.FindDefaultCredentials(ctx, AndroidPublisherScope)
		return creds, config.CredentialsADC, err

	case config.CredentialsSecretManager:
		creds, err := p.fromSecretManager(ctx)
		return creds, config.CredentialsSecretManager, err

	case config.CredentialsJSON:
		creds, err := p.fromJSON(ctx)
		return creds, config.CredentialsJSON, err

	case config.CredentialsAuto, "":
		creds, adcErr := google.FindDefaultCredentials(ctx, AndroidPublisherScope)
		if adcErr == nil {
			return creds, config.CredentialsADC, nil
		}
		p.logger.Warn("Application default credentials unavailable, trying Secret Manager", map[string]interface{}{
			"error": adcErr.Error(),
		})
		creds, err := p.fromSecretManager(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("adc: %v; secret manager: %w", adcErr, err)
		}
		return creds, config.CredentialsSecretManager, nil

	default:
		return nil, "", fmt.Errorf("unknown credential source %q", p.cfg.Source)
	}
}

func (p *CredentialProvider) fromJSON(ctx context.Context) (*google.Credentials, error) {
	data := []byte(p.cfg.ServiceAccountJSON)
	if len(data) == 0 && p.cfg.ServiceAccountFile != "" {
		var err error
		data, err = os.ReadFile(p.cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("service account JSON is empty")
	}
	creds, err := google.CredentialsFromJSON(ctx, data, AndroidPublisherScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account JSON: %w", err)
	}
	return creds, nil
}

func (p *CredentialProvider) fromSecretManager(ctx context.Context) (*google.Credentials, error) {
	if p.cfg.ProjectID == "" {
		return nil, fmt.Errorf("secret manager project id is not set")
	}

	sm, err := secretmanager.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}

	name := SecretVersionName(p.cfg.ProjectID, p.cfg.SecretName, p.cfg.SecretVersion)
	resp, err := sm.Projects.Secrets.Versions.Access(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("access %s: %w", name, err)
	}
	if resp.Payload == nil {
		return nil, fmt.Errorf("secret %s has no payload", name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decode secret payload: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, AndroidPublisherScope)
	if err != nil {
		return nil, fmt.Errorf("parse secret payload: %w", err)
	}
	return creds, nil
}

// SecretVersionName builds the Secret Manager resource name.
func SecretVersionName(projectID, secretName, version string) string {
	if secretName == "" {
		secretName = "PLAY_API_KEY_JSON"
	}
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
}
