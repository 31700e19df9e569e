package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/learnhub-io/identity/internal/authsrv"
	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfo_RolesScopeCarriesPermissions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s, err := store.New("sqlite", ":memory:", store.Options{})
	require.NoError(t, err)

	cfg := &config.Config{
		BaseURL:                "http://localhost:8080",
		AuthCodeExpiration:     10 * time.Minute,
		AccessTokenExpiration:  time.Hour,
		RefreshTokenExpiration: 24 * time.Hour,
		DefaultClientScopes:    []string{"openid", "roles"},
	}
	key, err := authsrv.LoadSigningKey("")
	require.NoError(t, err)
	srv := authsrv.NewServer(authsrv.NewStoreAdapter(s), s, cfg, key, metrics.NewNoopRecorder())
	handler := NewOIDCHandler(srv, s, cfg)

	identity := &models.Identity{
		Email:    "userinfo@example.com",
		Username: "userinfouser",
		Role:     "user",
		Status:   "active",
	}
	require.NoError(t, s.CreateIdentity(identity))
	require.NoError(t, s.GrantPermission("user", "perm:profile.read"))

	client := &models.Client{
		ClientID:                "userinfo-app",
		Name:                    "UserInfo App",
		RedirectURIs:            "https://ui.example.com/callback",
		GrantTypes:              "authorization_code,refresh_token",
		ResponseTypes:           "code",
		Scopes:                  "openid roles",
		TokenEndpointAuthMethod: "none",
		IsActive:                true,
	}
	require.NoError(t, s.CreateClient(client))

	ctx := context.Background()
	verifier := "userinfo-code-verifier"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://ui.example.com/callback", "code",
		"openid roles", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)

	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://ui.example.com/callback", verifier)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/oauth/userinfo", handler.UserInfo)

	w := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	httpReq.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	router.ServeHTTP(w, httpReq)

	require.Equal(t, http.StatusOK, w.Code)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claims))
	assert.Equal(t, "1", claims["sub"])
	assert.Equal(t, []any{"user"}, claims["roles"])
	assert.Equal(t, []any{"perm:profile.read"}, claims["permissions"])
}
