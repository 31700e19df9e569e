package bootstrap

import (
	"log"
	"net/http"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/handlers"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/middleware"
	"github.com/learnhub-io/identity/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter configures the Gin router with all routes and middleware.
func setupRouter(
	app *Application,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	oauthHandler *handlers.OAuthHandler,
	oidcHandler *handlers.OIDCHandler,
) *gin.Engine {
	cfg := app.Config
	setupGinMode(cfg)
	r := gin.New()

	r.Use(metrics.HTTPMetricsMiddleware(app.MetricsRecorder))
	r.Use(gin.Logger(), gin.Recovery())

	setupSessionMiddleware(r, cfg)

	loginLimiter, tokenLimiter := setupRateLimiting(cfg)
	csrf := middleware.CSRF(app.StateCache, cfg.SessionLifetime)

	// The dispatcher runs on every route. Public paths skip
	// authentication: well-known documents, the health and metrics
	// endpoints, login, and the token-facing protocol endpoints, which
	// authenticate clients by their own means.
	app.Dispatcher.MarkPublic(
		"/health",
		"/metrics",
		"/.well-known/openid-configuration",
		"/.well-known/jwks.json",
		"/auth/login",
		"/auth/oidc/login",
		"/auth/oidc/callback",
		"/oauth/token",
		"/oauth/introspect",
		"/oauth/revoke",
		"/oauth/userinfo",
		"/oauth/device/authorization",
	)
	r.Use(app.Dispatcher.Handler())

	r.GET("/health", createHealthCheckHandler(app.DB))
	setupMetricsEndpoint(r, cfg)

	r.GET("/.well-known/openid-configuration", oidcHandler.Discovery)
	r.GET("/.well-known/jwks.json", oidcHandler.JWKS)

	auth := r.Group("/auth")
	{
		auth.POST("/login", loginLimiter, authHandler.Login)
		auth.GET("/oidc/login", loginLimiter, authHandler.OIDCLogin)
		auth.GET("/oidc/callback", loginLimiter, authHandler.OIDCCallback)
		auth.POST("/logout", csrf, authHandler.Logout)
		auth.GET("/me", authHandler.Me)
		auth.PATCH("/me", csrf, authHandler.UpdateProfile)

		auth.GET("/sessions", sessionHandler.List)
		auth.DELETE("/sessions/others", csrf, sessionHandler.RevokeOthers)
		auth.DELETE("/sessions/:id", csrf, sessionHandler.Revoke)
	}

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", oauthHandler.Authorize)
		oauth.POST("/token", tokenLimiter, oauthHandler.Token)
		oauth.POST("/introspect", tokenLimiter, oauthHandler.Introspect)
		oauth.POST("/revoke", tokenLimiter, oauthHandler.Revoke)
		oauth.GET("/userinfo", oidcHandler.UserInfo)
		oauth.POST("/userinfo", oidcHandler.UserInfo)
		oauth.POST("/device/authorization", tokenLimiter, oauthHandler.DeviceAuthorization)
		oauth.POST("/register", middleware.RequireAdmin(), oauthHandler.RegisterClient)
		oauth.POST("/clients/:client_id/secret", middleware.RequireAdmin(), oauthHandler.RegenerateSecret)
	}

	device := r.Group("/device")
	{
		device.GET("", oauthHandler.DeviceVerify)
		device.POST("/decision", csrf, oauthHandler.DeviceDecision)
	}

	logServerStartup(cfg)
	return r
}

func setupGinMode(cfg *config.Config) {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
}

// setupSessionMiddleware configures cookie storage for the opaque
// session token.
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config) {
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.RememberMeLifetime.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: sameSiteModeOf(cfg.SessionSameSite),
	})
	r.Use(sessions.Sessions(cfg.SessionCookieName, sessionStore))
}

func sameSiteModeOf(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	if !cfg.MetricsEnabled {
		log.Printf("Prometheus metrics disabled")
		return
	}
	log.Printf("Prometheus metrics enabled at /metrics")
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// setupRateLimiting builds the login and token endpoint limiters.
// Returns pass-through middleware when rate limiting is disabled.
func setupRateLimiting(cfg *config.Config) (loginLimiter, tokenLimiter gin.HandlerFunc) {
	passthrough := func(c *gin.Context) { c.Next() }
	if !cfg.EnableRateLimit {
		return passthrough, passthrough
	}

	build := func(requestsPerMinute int) gin.HandlerFunc {
		var limiter gin.HandlerFunc
		var err error
		if cfg.RateLimitStore == "redis" {
			limiter, err = middleware.NewRedisRateLimiter(
				requestsPerMinute, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
				cfg.RateLimitCleanupInterval)
		} else {
			limiter, err = middleware.NewMemoryRateLimiter(requestsPerMinute, cfg.RateLimitCleanupInterval)
		}
		if err != nil {
			log.Printf("[Bootstrap] Rate limiter setup failed, continuing without: %v", err)
			return passthrough
		}
		return limiter
	}

	return build(cfg.LoginRateLimit), build(cfg.TokenRateLimit)
}

func createHealthCheckHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func logServerStartup(cfg *config.Config) {
	log.Printf("Server starting on %s (environment: %s)", cfg.ServerAddr, cfg.Environment)
	log.Printf("Issuer base URL: %s", cfg.BaseURL)
}
