package bootstrap

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/authsrv"
	"github.com/learnhub-io/identity/internal/cache"
	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/handlers"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/middleware"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/scheduler"
	"github.com/learnhub-io/identity/internal/session"
	"github.com/learnhub-io/identity/internal/store"
	identitysync "github.com/learnhub-io/identity/internal/sync"
	"github.com/learnhub-io/identity/internal/verifier"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Application holds all initialized components.
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB              *store.Store
	MetricsRecorder metrics.Recorder
	StateCache      cache.Cache[string]
	RedisClient     *redis.Client

	// Business layer
	Provider   *provider.Client // nil when delegation is disabled
	Verifier   *verifier.Verifier
	Sessions   *session.Service
	Resolver   *identitysync.Resolver
	AuthServer *authsrv.Server
	Scheduler  *scheduler.Scheduler

	// HTTP
	Dispatcher *middleware.Dispatcher
	Router     *gin.Engine
	Server     *http.Server
}

// Run initializes every layer in order and blocks until shutdown.
func Run(cfg *config.Config) error {
	app := &Application{Config: cfg}

	validateConfiguration(cfg)

	if err := app.initializeInfrastructure(); err != nil {
		return err
	}
	if err := app.initializeBusinessLayer(); err != nil {
		return err
	}
	app.initializeHTTPLayer()
	app.startWithGracefulShutdown()

	return nil
}

// initializeInfrastructure sets up database, metrics, Redis and the
// state cache.
func (app *Application) initializeInfrastructure() error {
	db, err := store.New(app.Config.DatabaseDriver, app.Config.DatabaseDSN, store.Options{
		Seed: app.Config.SeedEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db

	app.MetricsRecorder = metrics.Init(app.Config.MetricsEnabled)

	if app.Config.StateCacheStore == config.StateCacheRedis ||
		app.Config.RateLimitStore == "redis" {
		app.RedisClient = redis.NewClient(&redis.Options{
			Addr:     app.Config.RedisAddr,
			Password: app.Config.RedisPassword,
			DB:       app.Config.RedisDB,
		})
	}

	switch app.Config.StateCacheStore {
	case config.StateCacheRedis:
		app.StateCache = cache.NewRedisCache[string](app.RedisClient, "state")
		log.Printf("[Bootstrap] State cache: redis (%s)", app.Config.RedisAddr)
	default:
		app.StateCache = cache.NewMemoryCache[string]()
		log.Printf("[Bootstrap] State cache: memory")
	}

	return nil
}

// initializeBusinessLayer wires verifier, provider, session service,
// identity sync and the authorization server.
func (app *Application) initializeBusinessLayer() error {
	var delegated verifier.DelegatedVerifier
	if app.Config.ProviderEnabled {
		app.Provider = provider.NewClient(provider.Config{
			BaseURL:      app.Config.ProviderBaseURL,
			Realm:        app.Config.ProviderRealm,
			ClientID:     app.Config.ProviderClientID,
			ClientSecret: app.Config.ProviderClientSecret,
			RedirectURL:  strings.TrimRight(app.Config.BaseURL, "/") + "/auth/oidc/callback",
			Timeout:      app.Config.ProviderTimeout,
			MaxRetries:   app.Config.ProviderMaxRetries,
			RetryDelay:   app.Config.ProviderRetryDelay,
		})
		delegated = app.Provider
		log.Printf("[Bootstrap] Delegated provider enabled: %s (realm %s)",
			app.Config.ProviderBaseURL, app.Config.ProviderRealm)
	} else {
		log.Printf("[Bootstrap] Delegated provider disabled, local credentials only")
	}

	app.Verifier = verifier.New(app.Config, delegated, app.MetricsRecorder)

	var refresher session.DelegatedRefresher
	var directory identitysync.Directory
	if app.Provider != nil {
		refresher = app.Provider
		directory = app.Provider
	}
	app.Sessions = session.NewService(app.DB, app.Config, app.Verifier, refresher, app.MetricsRecorder)
	app.Resolver = identitysync.NewResolver(app.DB, directory)

	signingKey, err := authsrv.LoadSigningKey(app.Config.SigningKeyPEM)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	grantStorage := authsrv.NewStoreAdapter(app.DB)
	app.AuthServer = authsrv.NewServer(grantStorage, app.DB, app.Config, signingKey, app.MetricsRecorder)

	app.Scheduler = scheduler.New(app.Config, app.DB, app.Sessions, grantStorage)

	return nil
}

// initializeHTTPLayer builds handlers, the router and the HTTP server.
func (app *Application) initializeHTTPLayer() {
	app.Dispatcher = middleware.NewDispatcher(app.Verifier, app.Sessions, app.DB)

	var delegatedLogin handlers.DelegatedLogin
	if app.Provider != nil {
		delegatedLogin = app.Provider
	}

	authHandler := handlers.NewAuthHandler(
		app.Config, app.DB, app.Verifier, app.Sessions,
		app.Resolver, delegatedLogin, app.StateCache, app.MetricsRecorder,
	)
	sessionHandler := handlers.NewSessionHandler(app.Sessions)
	oauthHandler := handlers.NewOAuthHandler(app.AuthServer, app.Config)
	oidcHandler := handlers.NewOIDCHandler(app.AuthServer, app.DB, app.Config)

	app.Router = setupRouter(app, authHandler, sessionHandler, oauthHandler, oidcHandler)

	app.Server = &http.Server{
		Addr:              app.Config.ServerAddr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// validateConfiguration logs warnings for insecure defaults. The
// server still boots so development stays frictionless; production
// deployments treat these as fatal review items.
func validateConfiguration(cfg *config.Config) {
	if cfg.IsProduction {
		if cfg.JWTSecret == "local-signing-secret-change-in-production" {
			log.Println("[Bootstrap] WARNING: default JWT_SECRET in production")
		}
		if cfg.SessionSecret == "session-secret-change-in-production" {
			log.Println("[Bootstrap] WARNING: default SESSION_SECRET in production")
		}
		if cfg.SigningKeyPEM == "" {
			log.Println("[Bootstrap] WARNING: ephemeral signing key in production; issued tokens will not survive a restart")
		}
	}
	if cfg.ProviderEnabled && cfg.ProviderBaseURL == "" {
		log.Fatal("[Bootstrap] PROVIDER_ENABLED requires PROVIDER_BASE_URL")
	}
	if cfg.SessionTokenBytes < 48 {
		log.Printf("[Bootstrap] SESSION_TOKEN_BYTES raised to 48 (was %d)", cfg.SessionTokenBytes)
		cfg.SessionTokenBytes = 48
	}
}
