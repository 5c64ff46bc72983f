// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearCloudEnv(t *testing.T) {
	for _, name := range []string{
		"PROJECT_ID", "GCLOUD_PROJECT", "GCP_PROJECT", "GOOGLE_CLOUD_PROJECT", "FIRESTORE_PROJECT_ID",
		"SECRET_NAME", "PLAY_SERVICE_ACCOUNT_JSON", "GOOGLE_APPLICATION_CREDENTIALS",
		"PLAY_PACKAGE_NAME", "VERIFY_KEY",
	} {
		t.Setenv(name, "")
	}
}

// ==========================
// Loading
// ==========================

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	clearCloudEnv(t)
	path := writeConfig(t, `
store:
  driver: memory
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "play-entitlements", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, CredentialsAuto, cfg.Billing.Credentials.Source)
	assert.Equal(t, "PLAY_API_KEY_JSON", cfg.Billing.Credentials.SecretName)
	assert.Equal(t, "latest", cfg.Billing.Credentials.SecretVersion)
	assert.Equal(t, "play_purchases", cfg.Store.MappingCollection)
	assert.Equal(t, "users", cfg.Store.UserCollection)
	assert.True(t, cfg.Billing.AcknowledgePurchases)
	assert.False(t, cfg.Camunda.Enabled)
	assert.Equal(t, AuthNone, cfg.Auth.Provider)
	assert.Equal(t, 10*time.Second, GetDuration(cfg.Billing.RequestTimeout))
	assert.Equal(t, 0, cfg.Ingest.UnmappedGracePeriod)
}

func TestLoadFromFile_LegacyEnvironmentNames(t *testing.T) {
	clearCloudEnv(t)
	t.Setenv("GCLOUD_PROJECT", "books-prod")
	t.Setenv("SECRET_NAME", "PLAY_KEY")
	t.Setenv("VERIFY_KEY", "s3cret")

	path := writeConfig(t, `
store:
  driver: firestore
auth:
  provider: shared_key
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "books-prod", cfg.Billing.Credentials.ProjectID)
	assert.Equal(t, "books-prod", cfg.Database.Firestore.ProjectID)
	assert.Equal(t, "PLAY_KEY", cfg.Billing.Credentials.SecretName)
	assert.Equal(t, "s3cret", cfg.Auth.SharedKey)
}

func TestLoadFromFile_ExpandsPlaceholders(t *testing.T) {
	clearCloudEnv(t)
	t.Setenv("TEST_PG_HOST", "db.internal")

	path := writeConfig(t, `
store:
  driver: postgres
database:
  postgres:
    host: ${TEST_PG_HOST}
    database: entitlements
    user: svc
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Contains(t, cfg.Database.Postgres.GetDSN(), "host=db.internal")
}

func TestLoadFromFile_UnsetPlaceholderFallsBackToLegacyNames(t *testing.T) {
	clearCloudEnv(t)
	t.Setenv("TEST_UNSET_PROJECT", "")
	t.Setenv("PROJECT_ID", "books-prod")
	t.Setenv("SECRET_NAME", "PLAY_KEY")

	path := writeConfig(t, `
billing:
  credentials:
    source: secret_manager
    project_id: ${TEST_UNSET_PROJECT}
    secret_version: latest
store:
  driver: memory
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "books-prod", cfg.Billing.Credentials.ProjectID)
	assert.Equal(t, "PLAY_KEY", cfg.Billing.Credentials.SecretName)
	assert.Equal(t, "latest", cfg.Billing.Credentials.SecretVersion)
}

// ==========================
// Validation
// ==========================

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "firestore without project",
			body:    "store:\n  driver: firestore\n",
			wantErr: "database.firestore.project_id",
		},
		{
			name:    "unknown driver",
			body:    "store:\n  driver: dynamo\n",
			wantErr: "unknown store.driver",
		},
		{
			name:    "zeebe without broker",
			body:    "store:\n  driver: memory\ncamunda:\n  enabled: true\n",
			wantErr: "camunda.broker_address",
		},
		{
			name:    "json credentials without key",
			body:    "store:\n  driver: memory\nbilling:\n  credentials:\n    source: json\n",
			wantErr: "service_account_json",
		},
		{
			name:    "push verification without audience",
			body:    "store:\n  driver: memory\npubsub:\n  verify_push_token: true\n",
			wantErr: "pubsub.push_audience",
		},
		{
			name:    "shared key auth without key",
			body:    "store:\n  driver: memory\nauth:\n  provider: shared_key\n",
			wantErr: "auth.shared_key",
		},
		{
			name:    "pro claim without firebase project",
			body:    "store:\n  driver: memory\nevents:\n  pro_claim:\n    enabled: true\n",
			wantErr: "pro claims",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCloudEnv(t)
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetWorkerConfig_Defaults(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"ingest-notification": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "ingest-notification"))
	assert.Equal(t, 2, GetWorkerConfig(cfg, "ingest-notification").MaxJobsActive)

	def := GetWorkerConfig(cfg, "verify-purchase")
	assert.True(t, def.Enabled)
	assert.Equal(t, 5, def.MaxJobsActive)
	assert.True(t, IsWorkerEnabled(cfg, "verify-purchase"))
}
