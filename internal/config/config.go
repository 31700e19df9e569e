package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// State cache backend constants
const (
	StateCacheMemory = "memory"
	StateCacheRedis  = "redis"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string
	Environment  string // "development" or "production"
	IsProduction bool

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	// Local JWT settings
	JWTSecret              string
	JWTExpiration          time.Duration
	RefreshTokenExpiration time.Duration

	// Session settings
	SessionCookieName   string
	SessionSecret       string
	SessionSameSite     string // "lax", "strict", or "none"
	SessionLifetime     time.Duration
	RememberMeLifetime  time.Duration
	SessionLimit        int
	RefreshThreshold    time.Duration
	SessionTokenBytes   int
	RefreshScanInterval time.Duration
	CleanupInterval     time.Duration

	// Delegated identity provider
	ProviderEnabled      bool
	ProviderBaseURL      string
	ProviderRealm        string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderTimeout      time.Duration
	ProviderMaxRetries   int
	ProviderRetryDelay   time.Duration

	// Authorization server
	AuthCodeExpiration    time.Duration
	AccessTokenExpiration time.Duration
	DeviceCodeExpiration  time.Duration
	PollingInterval       int // seconds
	PKCERequired          bool
	SigningKeyPEM         string // PEM-encoded RSA key; empty = generate at boot
	DefaultClientScopes   []string

	// State cache (interactive login redirects)
	StateCacheStore string // "memory" or "redis"
	StateTTL        time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	LoginRateLimit           int    // requests per minute
	TokenRateLimit           int    // requests per minute
	RateLimitCleanupInterval time.Duration

	// Metrics
	MetricsEnabled bool

	// Seed data
	SeedEnabled bool
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		Environment:  env,
		IsProduction: env == "production",

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "identity.db"),

		JWTSecret:              getEnv("JWT_SECRET", "local-signing-secret-change-in-production"),
		JWTExpiration:          getEnvDuration("JWT_EXPIRATION", time.Hour),
		RefreshTokenExpiration: getEnvDuration("REFRESH_TOKEN_EXPIRATION", 720*time.Hour),

		SessionCookieName:   getEnv("SESSION_COOKIE_NAME", "identity_session"),
		SessionSecret:       getEnv("SESSION_SECRET", "session-secret-change-in-production"),
		SessionSameSite:     getEnv("SESSION_SAMESITE", "lax"),
		SessionLifetime:     getEnvDuration("SESSION_LIFETIME", 604800*time.Second),
		RememberMeLifetime:  getEnvDuration("REMEMBER_ME_LIFETIME", 2592000*time.Second),
		SessionLimit:        getEnvInt("SESSION_LIMIT", 5),
		RefreshThreshold:    getEnvDuration("REFRESH_THRESHOLD", 300*time.Second),
		SessionTokenBytes:   getEnvInt("SESSION_TOKEN_BYTES", 48),
		RefreshScanInterval: getEnvDuration("REFRESH_SCAN_INTERVAL", 60*time.Second),
		CleanupInterval:     getEnvDuration("CLEANUP_INTERVAL", time.Hour),

		ProviderEnabled:      getEnvBool("PROVIDER_ENABLED", false),
		ProviderBaseURL:      getEnv("PROVIDER_BASE_URL", ""),
		ProviderRealm:        getEnv("PROVIDER_REALM", ""),
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderTimeout:      getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		ProviderMaxRetries:   getEnvInt("PROVIDER_MAX_RETRIES", 3),
		ProviderRetryDelay:   getEnvDuration("PROVIDER_RETRY_DELAY", time.Second),

		AuthCodeExpiration:    getEnvDuration("AUTH_CODE_EXPIRATION", 10*time.Minute),
		AccessTokenExpiration: getEnvDuration("ACCESS_TOKEN_EXPIRATION", time.Hour),
		DeviceCodeExpiration:  getEnvDuration("DEVICE_CODE_EXPIRATION", 30*time.Minute),
		PollingInterval:       getEnvInt("POLLING_INTERVAL", 5),
		PKCERequired:          getEnvBool("PKCE_REQUIRED", false),
		SigningKeyPEM:         getEnv("SIGNING_KEY_PEM", ""),
		DefaultClientScopes:   getEnvSlice("DEFAULT_CLIENT_SCOPES", []string{"openid", "profile", "email"}),

		StateCacheStore: getEnv("STATE_CACHE_STORE", StateCacheMemory),
		StateTTL:        getEnvDuration("STATE_TTL", 10*time.Minute),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", "memory"),
		LoginRateLimit:           getEnvInt("LOGIN_RATE_LIMIT", 10),
		TokenRateLimit:           getEnvInt("TOKEN_RATE_LIMIT", 60),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		SeedEnabled: getEnvBool("SEED_ENABLED", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var parts []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
