// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMemory        = "memory"
	StoreFirestore     = "firestore"
	StorePostgres      = "postgres"
	StoreRedis         = "redis"
	StoreElasticsearch = "elasticsearch"

	CredentialsAuto          = "auto"
	CredentialsADC           = "adc"
	CredentialsSecretManager = "secret_manager"
	CredentialsJSON          = "json"

	AuthNone      = "none"
	AuthFirebase  = "firebase"
	AuthKeycloak  = "keycloak"
	AuthSharedKey = "shared_key"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// over it and lets environment variables override any key.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	if root := findProjectRoot(); root != "" {
		v.AddConfigPath(filepath.Join(root, "configs"))
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)
	return v
}

// setViperDefaults covers keys whose zero value is meaningful, so they
// cannot be defaulted after unmarshalling.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("billing.acknowledge_purchases", true)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("camunda.enabled", false)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Fprintf(os.Stderr, "Loaded .env from: %s\n", path)
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// an unset placeholder becomes empty so legacy names and defaults can fill it
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig honours the environment names the Cloud Functions
// deployment used.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty := func(dst *string, envs ...string) {
		if *dst != "" {
			return
		}
		for _, name := range envs {
			if val := os.Getenv(name); val != "" {
				*dst = val
				return
			}
		}
	}

	setIfEmpty(&cfg.Billing.PackageName, "PLAY_PACKAGE_NAME")
	setIfEmpty(&cfg.Billing.Credentials.ProjectID, "PROJECT_ID", "GCLOUD_PROJECT", "GCP_PROJECT", "GOOGLE_CLOUD_PROJECT")
	setIfEmpty(&cfg.Billing.Credentials.SecretName, "SECRET_NAME")
	setIfEmpty(&cfg.Billing.Credentials.ServiceAccountJSON, "PLAY_SERVICE_ACCOUNT_JSON")
	setIfEmpty(&cfg.Billing.Credentials.ServiceAccountFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setIfEmpty(&cfg.Database.Firestore.ProjectID, "FIRESTORE_PROJECT_ID", "PROJECT_ID", "GCLOUD_PROJECT", "GCP_PROJECT", "GOOGLE_CLOUD_PROJECT")
	setIfEmpty(&cfg.Auth.SharedKey, "VERIFY_KEY")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&cfg.Events.SNS.TopicARN, "ENTITLEMENT_EVENTS_TOPIC_ARN")
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "play-entitlements"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Billing.RequestTimeout == 0 {
		cfg.Billing.RequestTimeout = 10000
	}
	if cfg.Billing.RateLimitPerSecond == 0 {
		cfg.Billing.RateLimitPerSecond = 20
	}
	if cfg.Billing.RateLimitBurst == 0 {
		cfg.Billing.RateLimitBurst = 10
	}
	if cfg.Billing.Credentials.Source == "" {
		cfg.Billing.Credentials.Source = CredentialsAuto
	}
	if cfg.Billing.Credentials.SecretName == "" {
		cfg.Billing.Credentials.SecretName = "PLAY_API_KEY_JSON"
	}
	if cfg.Billing.Credentials.SecretVersion == "" {
		cfg.Billing.Credentials.SecretVersion = "latest"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreFirestore
	}
	if cfg.Store.MappingCollection == "" {
		cfg.Store.MappingCollection = "play_purchases"
	}
	if cfg.Store.UserCollection == "" {
		cfg.Store.UserCollection = "users"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 300000
	}

	if cfg.Auth.Provider == "" {
		cfg.Auth.Provider = AuthNone
	}

	if cfg.Ingest.Timeout == 0 {
		cfg.Ingest.Timeout = 30000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	switch cfg.Billing.Credentials.Source {
	case CredentialsAuto, CredentialsADC:
	case CredentialsSecretManager:
		if cfg.Billing.Credentials.ProjectID == "" {
			return fmt.Errorf("billing.credentials.project_id is required for secret_manager")
		}
	case CredentialsJSON:
		if cfg.Billing.Credentials.ServiceAccountJSON == "" && cfg.Billing.Credentials.ServiceAccountFile == "" {
			return fmt.Errorf("billing.credentials.service_account_json or service_account_file is required")
		}
	default:
		return fmt.Errorf("unknown billing.credentials.source %q", cfg.Billing.Credentials.Source)
	}

	switch cfg.Store.Driver {
	case StoreMemory:
	case StoreFirestore:
		if cfg.Database.Firestore.ProjectID == "" {
			return fmt.Errorf("database.firestore.project_id is required")
		}
	case StorePostgres:
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case StoreRedis:
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required")
		}
	case StoreElasticsearch:
		if cfg.Database.Elasticsearch.GetURL() == "" {
			return fmt.Errorf("database.elasticsearch.addresses or url is required")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}

	if cfg.Cache.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when cache is enabled")
	}

	switch cfg.Auth.Provider {
	case AuthNone, AuthFirebase:
	case AuthKeycloak:
		if cfg.Auth.Keycloak.URL == "" || cfg.Auth.Keycloak.Realm == "" {
			return fmt.Errorf("auth.keycloak.url and auth.keycloak.realm are required")
		}
	case AuthSharedKey:
		if cfg.Auth.SharedKey == "" {
			return fmt.Errorf("auth.shared_key is required for shared_key auth")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", cfg.Auth.Provider)
	}

	if cfg.PubSub.VerifyPushToken && cfg.PubSub.PushAudience == "" {
		return fmt.Errorf("pubsub.push_audience is required when verify_push_token is set")
	}
	if cfg.Events.SNS.Enabled && cfg.Events.SNS.TopicARN == "" {
		return fmt.Errorf("events.sns.topic_arn is required when sns events are enabled")
	}
	if cfg.Events.ProClaim.Enabled && cfg.Database.Firestore.ProjectID == "" {
		return fmt.Errorf("database.firestore.project_id is required when pro claims are enabled")
	}
	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
