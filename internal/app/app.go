// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"play-entitlements/internal/api"
	"play-entitlements/internal/common/auth"
	awsclient "play-entitlements/internal/common/aws"
	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/database"
	"play-entitlements/internal/common/gcp"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/observability"
	"play-entitlements/internal/store"
	checkentitlement "play-entitlements/internal/workers/billing/check-entitlement"
	ingestnotification "play-entitlements/internal/workers/billing/ingest-notification"
	reconcileentitlement "play-entitlements/internal/workers/billing/reconcile-entitlement"
	registerpurchase "play-entitlements/internal/workers/billing/register-purchase"
	verifypurchase "play-entitlements/internal/workers/billing/verify-purchase"
	"play-entitlements/pkg/registry"

	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

// App holds every wired component of the entitlement engine.
type App struct {
	Config        *config.Config
	Logger        logger.Logger
	Observability *observability.Observability

	Store       store.Store
	Catalog     *registry.ProductRegistry
	Credentials *gcp.CredentialProvider

	Verifier     *verifypurchase.Service
	Reconciler   *reconcileentitlement.Service
	Registrar    *registerpurchase.Service
	Ingester     *ingestnotification.Service
	Entitlements *checkentitlement.Handler
	Cache        *checkentitlement.Cache

	Authenticator auth.Authenticator
	PushVerifier  *gcp.PushVerifier

	redis   *database.RedisClient
	closers []func() error
}

// Options tune Build for callers other than the long-running service.
type Options struct {
	// PlayOptions are appended to every Play Developer API client.
	PlayOptions []option.ClientOption
	// Clients replaces the credential provider, for fakes.
	Clients verifypurchase.ClientProvider
	// SkipCallerAuth leaves caller authentication unconfigured.
	SkipCallerAuth bool
	// ConnectAttempts bounds backend dialling; zero means the service default.
	ConnectAttempts int
}

// Build dials the configured backends and wires the engine components.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, obs *observability.Observability, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: log, Observability: obs}

	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 10
	}

	catalog, err := loadCatalog(cfg.Billing)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog
	log.Info("Product catalog loaded", map[string]interface{}{"products": catalog.Len()})

	clients := opts.Clients
	if clients == nil {
		playOpts := opts.PlayOptions
		if cfg.Billing.Endpoint != "" {
			playOpts = append([]option.ClientOption{option.WithEndpoint(cfg.Billing.Endpoint)}, playOpts...)
		}
		a.Credentials = gcp.NewCredentialProvider(cfg.Billing.Credentials, log, playOpts...)
		clients = a.Credentials
	}

	backends, fbApp, err := a.connect(ctx, attempts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Store, err = store.New(ctx, cfg.Store, backends)
	if err != nil {
		closeBackends(backends)
		a.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)
	a.Verifier = verifypurchase.NewService(verifypurchase.ServiceDependencies{
		Clients:       clients,
		Logger:        log,
		Observability: obs,
	}, verifypurchase.ConfigFrom(cfg.Billing))

	if cfg.Cache.Enabled && a.redis != nil {
		a.Cache = checkentitlement.NewCache(a.redis.Client, config.GetDuration(cfg.Cache.TTL))
	}

	reconcilerDeps := reconcileentitlement.ServiceDependencies{
		Store:         a.Store,
		Logger:        log,
		Observability: obs,
	}
	if a.Cache != nil {
		reconcilerDeps.Cache = a.Cache
	}
	if cfg.Events.SNS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Events.SNS.Region)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("sns client: %w", err)
		}
		reconcilerDeps.Publisher = awsclient.NewEntitlementPublisher(snsClient, cfg.Events.SNS.TopicARN)
	}
	if cfg.Events.ProClaim.Enabled {
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("firebase auth client: %w", err)
		}
		reconcilerDeps.Claims = auth.NewProClaimSyncer(authClient)
	}
	a.Reconciler = reconcileentitlement.NewService(reconcilerDeps)

	a.Registrar = registerpurchase.NewService(registerpurchase.ServiceDependencies{
		Verifier:   a.Verifier,
		Mappings:   a.Store,
		Reconciler: a.Reconciler,
		Catalog:    catalog,
		Logger:     log,
	}, registerpurchase.ConfigFrom(cfg.Billing))

	a.Ingester = ingestnotification.NewService(ingestnotification.ServiceDependencies{
		Verifier:      a.Verifier,
		Mappings:      a.Store,
		Reconciler:    a.Reconciler,
		Logger:        log,
		Observability: obs,
	}, ingestnotification.ConfigFrom(cfg.Ingest))

	checkCfg := checkentitlement.DefaultConfig()
	checkCfg.CacheTTL = config.GetDuration(cfg.Cache.TTL)
	a.Entitlements = checkentitlement.NewHandler(checkCfg, a.Store, a.Cache, log)

	if !opts.SkipCallerAuth {
		a.Authenticator, err = auth.New(ctx, cfg.Auth, fbApp)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("caller auth: %w", err)
		}
		a.PushVerifier = gcp.NewPushVerifier(cfg.PubSub)
	}

	return a, nil
}

// connect dials the backend the store driver needs, plus Redis when the
// entitlement cache is on.
func (a *App) connect(ctx context.Context, attempts int) (store.Backends, *firebase.App, error) {
	cfg := a.Config
	var b store.Backends
	var fbApp *firebase.App

	needRedis := cfg.Store.Driver == config.StoreRedis || cfg.Cache.Enabled
	needFirebase := cfg.Store.Driver == config.StoreFirestore || cfg.Auth.Provider == config.AuthFirebase ||
		cfg.Events.ProClaim.Enabled

	switch cfg.Store.Driver {
	case config.StorePostgres:
		err := retryWithBackoff(func() error {
			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				pg.Close()
				return err
			}
			b.Postgres = pg
			return nil
		}, attempts, 2*time.Second, a.Logger, "PostgreSQL connection")
		if err != nil {
			return b, nil, err
		}
		a.Logger.Info("PostgreSQL connected successfully", nil)

	case config.StoreElasticsearch:
		err := retryWithBackoff(func() error {
			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := es.Ping(ctx); err != nil {
				return err
			}
			b.Elasticsearch = es
			return nil
		}, attempts, 2*time.Second, a.Logger, "Elasticsearch connection")
		if err != nil {
			return b, nil, err
		}
		a.Logger.Info("Elasticsearch connected successfully", nil)
	}

	if needRedis {
		err := retryWithBackoff(func() error {
			rc, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rc.Ping(ctx); err != nil {
				rc.Close()
				return err
			}
			a.redis = rc
			return nil
		}, attempts, 2*time.Second, a.Logger, "Redis connection")
		if err != nil {
			return b, nil, err
		}
		if cfg.Store.Driver == config.StoreRedis {
			b.Redis = a.redis
		} else {
			a.closers = append(a.closers, a.redis.Close)
		}
		a.Logger.Info("Redis connected successfully", nil)
	}

	if needFirebase {
		fbOpts, err := a.firebaseOptions(ctx)
		if err != nil {
			return b, nil, fmt.Errorf("firebase credentials: %w", err)
		}
		if cfg.Store.Driver == config.StoreFirestore {
			fs, err := database.NewFirestore(ctx, cfg.Database.Firestore, fbOpts...)
			if err != nil {
				return b, nil, err
			}
			if err := retryWithBackoff(func() error { return fs.Ping(ctx) },
				attempts, 2*time.Second, a.Logger, "Firestore connection"); err != nil {
				fs.Close()
				return b, nil, err
			}
			b.Firestore = fs
			fbApp = fs.App
			a.Logger.Info("Firestore connected successfully", nil)
		} else {
			app, err := database.NewFirebaseApp(ctx, cfg.Database.Firestore.ProjectID, fbOpts...)
			if err != nil {
				return b, nil, err
			}
			fbApp = app
		}
	}

	return b, fbApp, nil
}

// firebaseOptions lets Firebase and Firestore run on the billing service
// account, which matters when it only exists in Secret Manager.
func (a *App) firebaseOptions(ctx context.Context) ([]option.ClientOption, error) {
	if a.Credentials == nil || os.Getenv("FIRESTORE_EMULATOR_HOST") != "" {
		return nil, nil
	}
	return a.Credentials.ClientOptions(ctx)
}

// closeBackends releases clients that no store took ownership of.
func closeBackends(b store.Backends) {
	if b.Postgres != nil {
		_ = b.Postgres.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Firestore != nil {
		_ = b.Firestore.Close()
	}
}

// ReadinessChecks returns the dependency checks behind /ready.
func (a *App) ReadinessChecks() map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{
		"store": a.Store.Ping,
	}
	if a.redis != nil && a.Config.Store.Driver != config.StoreRedis {
		checks["cache"] = a.redis.Ping
	}
	return checks
}

// Close releases every backend in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Error closing backend", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}

func loadCatalog(cfg config.BillingConfig) (*registry.ProductRegistry, error) {
	if cfg.CatalogPath == "" {
		if cfg.StrictCatalog {
			return nil, fmt.Errorf("billing.strict_catalog requires billing.catalog_path")
		}
		return registry.Empty(), nil
	}
	catalog, err := registry.LoadRegistry(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("product catalog: %w", err)
	}
	return catalog, nil
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
