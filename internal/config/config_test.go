package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, time.Hour, cfg.JWTExpiration)

	assert.Equal(t, 604800*time.Second, cfg.SessionLifetime)
	assert.Equal(t, 2592000*time.Second, cfg.RememberMeLifetime)
	assert.Equal(t, 5, cfg.SessionLimit)
	assert.Equal(t, 300*time.Second, cfg.RefreshThreshold)
	assert.Equal(t, 48, cfg.SessionTokenBytes)
	assert.Equal(t, 60*time.Second, cfg.RefreshScanInterval)

	assert.False(t, cfg.ProviderEnabled)
	assert.Equal(t, 10*time.Minute, cfg.AuthCodeExpiration)
	assert.Equal(t, 5, cfg.PollingInterval)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.DefaultClientScopes)
	assert.Equal(t, StateCacheMemory, cfg.StateCacheStore)
	assert.True(t, cfg.EnableRateLimit)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("SESSION_LIMIT", "2")
	t.Setenv("REFRESH_THRESHOLD", "10m")
	t.Setenv("PROVIDER_ENABLED", "true")
	t.Setenv("PKCE_REQUIRED", "1")
	t.Setenv("DEFAULT_CLIENT_SCOPES", "openid, roles")
	t.Setenv("ENABLE_RATE_LIMIT", "false")

	cfg := Load()

	assert.True(t, cfg.IsProduction)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 2, cfg.SessionLimit)
	assert.Equal(t, 10*time.Minute, cfg.RefreshThreshold)
	assert.True(t, cfg.ProviderEnabled)
	assert.True(t, cfg.PKCERequired)
	assert.Equal(t, []string{"openid", "roles"}, cfg.DefaultClientScopes)
	assert.False(t, cfg.EnableRateLimit)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_LIMIT", "many")
	t.Setenv("REFRESH_THRESHOLD", "soon")

	cfg := Load()

	assert.Equal(t, 5, cfg.SessionLimit)
	assert.Equal(t, 300*time.Second, cfg.RefreshThreshold)
}
