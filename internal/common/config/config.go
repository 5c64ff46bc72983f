// internal/common/config/config.go
package config

import "fmt"

type Config struct {
	App      AppConfig               `mapstructure:"app"`
	Server   ServerConfig            `mapstructure:"server"`
	Camunda  CamundaConfig           `mapstructure:"camunda"`
	Billing  BillingConfig           `mapstructure:"billing"`
	Store    StoreConfig             `mapstructure:"store"`
	Database DatabaseConfig          `mapstructure:"database"`
	Cache    CacheConfig             `mapstructure:"cache"`
	Auth     AuthConfig              `mapstructure:"auth"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Ingest   IngestConfig            `mapstructure:"ingest"`
	Events   EventsConfig            `mapstructure:"events"`
	Workers  map[string]WorkerConfig `mapstructure:"workers"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Tracing  TracingConfig           `mapstructure:"tracing"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string   `mapstructure:"address"`
	ReadTimeout     int      `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int      `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type BillingConfig struct {
	PackageName          string            `mapstructure:"package_name"`
	RequestTimeout       int               `mapstructure:"request_timeout"` // milliseconds
	RateLimitPerSecond   float64           `mapstructure:"rate_limit_per_second"`
	RateLimitBurst       int               `mapstructure:"rate_limit_burst"`
	AcknowledgePurchases bool              `mapstructure:"acknowledge_purchases"`
	CatalogPath          string            `mapstructure:"catalog_path"`
	StrictCatalog        bool              `mapstructure:"strict_catalog"`
	Endpoint             string            `mapstructure:"endpoint"` // override for emulators
	Credentials          CredentialsConfig `mapstructure:"credentials"`
}

// CredentialsConfig selects where the Play Developer API credential comes from.
type CredentialsConfig struct {
	Source             string `mapstructure:"source"` // auto, adc, secret_manager, json
	ProjectID          string `mapstructure:"project_id"`
	SecretName         string `mapstructure:"secret_name"`
	SecretVersion      string `mapstructure:"secret_version"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
	ServiceAccountFile string `mapstructure:"service_account_file"`
}

type StoreConfig struct {
	Driver            string `mapstructure:"driver"` // memory, firestore, postgres, redis, elasticsearch
	MappingCollection string `mapstructure:"mapping_collection"`
	UserCollection    string `mapstructure:"user_collection"`
	AutoMigrate       bool   `mapstructure:"auto_migrate"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Firestore     FirestoreConfig     `mapstructure:"firestore"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FirestoreConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	TTL     int  `mapstructure:"ttl"` // milliseconds
}

type AuthConfig struct {
	Provider  string `mapstructure:"provider"` // none, firebase, keycloak, shared_key
	SharedKey string `mapstructure:"shared_key"`
	Keycloak  struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// PubSubConfig governs the push endpoint the notification bus calls.
type PubSubConfig struct {
	VerifyPushToken    bool   `mapstructure:"verify_push_token"`
	PushAudience       string `mapstructure:"push_audience"`
	PushServiceAccount string `mapstructure:"push_service_account"`
}

type IngestConfig struct {
	Timeout             int `mapstructure:"timeout"`               // milliseconds
	UnmappedGracePeriod int `mapstructure:"unmapped_grace_period"` // milliseconds, 0 disables
}

type EventsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	// ProClaim mirrors isPro into the Firebase "pro" custom claim.
	ProClaim struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"pro_claim"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}
