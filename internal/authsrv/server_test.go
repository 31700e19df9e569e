package authsrv

import (
	"context"
	"testing"
	"time"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	s, err := store.New("sqlite", ":memory:", store.Options{})
	require.NoError(t, err)

	cfg := &config.Config{
		BaseURL:                "http://localhost:8080",
		AuthCodeExpiration:     10 * time.Minute,
		AccessTokenExpiration:  time.Hour,
		RefreshTokenExpiration: 24 * time.Hour,
		DeviceCodeExpiration:   30 * time.Minute,
		PollingInterval:        0, // interval tests opt in explicitly
		DefaultClientScopes:    []string{"openid", "profile", "email"},
	}

	key, err := LoadSigningKey("")
	require.NoError(t, err)

	return NewServer(NewStoreAdapter(s), s, cfg, key, metrics.NewNoopRecorder()), s
}

func createServerIdentity(t *testing.T, s *store.Store) *models.Identity {
	t.Helper()
	identity := &models.Identity{
		Email:    "oauth-user@example.com",
		Username: "oauthuser",
		Role:     "user",
		Status:   "active",
	}
	require.NoError(t, s.CreateIdentity(identity))
	return identity
}

func createPublicClient(t *testing.T, s *store.Store) *models.Client {
	t.Helper()
	client := &models.Client{
		ClientID:                "public-app",
		Name:                    "Public App",
		RedirectURIs:            "https://app.example.com/callback",
		GrantTypes:              "authorization_code,refresh_token,urn:ietf:params:oauth:grant-type:device_code",
		ResponseTypes:           "code",
		Scopes:                  "openid profile email",
		TokenEndpointAuthMethod: "none",
		IsActive:                true,
	}
	require.NoError(t, s.CreateClient(client))
	return client
}

func createConfidentialClient(t *testing.T, s *store.Store, secret string) *models.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	require.NoError(t, err)
	client := &models.Client{
		ClientID:      "server-app",
		SecretHash:    string(hash),
		Name:          "Server App",
		RedirectURIs:  "https://server.example.com/callback",
		GrantTypes:    "authorization_code,refresh_token",
		ResponseTypes: "code",
		Scopes:        "openid profile email",
		IsActive:      true,
	}
	require.NoError(t, s.CreateClient(client))
	return client
}

func TestValidateAuthorizationRequest(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	verifier := "test-code-verifier-with-enough-entropy"
	challenge := util.S256Challenge(verifier)

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code",
		"openid profile", challenge, "S256")
	require.NoError(t, err)
	assert.Equal(t, "openid profile", req.Scopes)
	assert.Equal(t, "S256", req.CodeChallengeMethod)

	// Empty scope falls back to the client's registered scopes.
	req, err = srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code",
		"", challenge, "S256")
	require.NoError(t, err)
	assert.Equal(t, client.Scopes, req.Scopes)
}

func TestValidateAuthorizationRequest_Rejections(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	challenge := util.S256Challenge("verifier")

	_, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "token", "openid", challenge, "S256")
	assert.ErrorIs(t, err, ErrUnsupportedResponseType)

	_, err = srv.ValidateAuthorizationRequest(
		"no-such-client", "https://app.example.com/callback", "code", "openid", challenge, "S256")
	assert.ErrorIs(t, err, ErrUnauthorizedClient)

	_, err = srv.ValidateAuthorizationRequest(
		client.ClientID, "https://evil.example.com/callback", "code", "openid", challenge, "S256")
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	_, err = srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code", "openid admin", challenge, "S256")
	assert.ErrorIs(t, err, ErrInvalidScope)

	// Public clients cannot skip PKCE.
	_, err = srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code", "openid", "", "")
	assert.ErrorIs(t, err, ErrPKCERequired)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	verifier := "test-code-verifier-with-enough-entropy"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code",
		"openid profile email", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)
	req.Nonce = "nonce-123"

	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	// The plaintext code is never stored.
	_, err = s.GetGrant(models.GrantKindAuthorizationCode, code)
	assert.ErrorIs(t, err, store.ErrNotFound)

	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://app.example.com/callback", verifier)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, 3600, resp.ExpiresIn)

	claims, err := srv.ValidateAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", claims["sub"])
	assert.Equal(t, client.ClientID, claims["client_id"])
	assert.Equal(t, "nonce-123", claims["nonce"])
	assert.Equal(t, "oauthuser", claims["preferred_username"])
	assert.Equal(t, "oauth-user@example.com", claims["email"])
}

func TestAccessClaims_RolesScopeCarriesPermissions(t *testing.T) {
	srv, s := setupTestServer(t)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	client := &models.Client{
		ClientID:                "roles-app",
		Name:                    "Roles App",
		RedirectURIs:            "https://roles.example.com/callback",
		GrantTypes:              "authorization_code,refresh_token",
		ResponseTypes:           "code",
		Scopes:                  "openid roles",
		TokenEndpointAuthMethod: "none",
		IsActive:                true,
	}
	require.NoError(t, s.CreateClient(client))

	require.NoError(t, s.GrantPermission("user", "perm:profile.write"))
	require.NoError(t, s.GrantPermission("user", "perm:profile.read"))

	verifier := "roles-scope-verifier"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://roles.example.com/callback", "code",
		"openid roles", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)

	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)

	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://roles.example.com/callback", verifier)
	require.NoError(t, err)

	claims, err := srv.ValidateAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []any{"user"}, claims["roles"])
	assert.Equal(t, []any{"perm:profile.read", "perm:profile.write"}, claims["permissions"])
}

func TestExchange_ReplayRevokesIssuedTokens(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	verifier := "replay-verifier"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code",
		"openid", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)

	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)

	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://app.example.com/callback", verifier)
	require.NoError(t, err)

	// Replay: the exchange fails and everything minted from the first
	// exchange is revoked.
	_, err = srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://app.example.com/callback", verifier)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = srv.ValidateAccessToken(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchange_Rejections(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	verifier := "rejection-verifier"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://app.example.com/callback", "code",
		"openid", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)

	_, err = srv.ExchangeAuthorizationCode(
		ctx, "0000000000000000000000000000000000000000000000000000000000000000",
		client.ClientID, "", "https://app.example.com/callback", verifier)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://other.example.com/callback", verifier)
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	_, err = srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://app.example.com/callback", "wrong-verifier")
	assert.ErrorIs(t, err, ErrInvalidCodeVerifier)
}

func TestExchange_ConfidentialClientSecret(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "s3cret")
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://server.example.com/callback", "code", "openid", "", "")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)

	_, err = srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "wrong", "https://server.example.com/callback", "")
	assert.ErrorIs(t, err, ErrInvalidClient)

	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "s3cret", "https://server.example.com/callback", "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRefreshTokens_GrantTypeNotRegistered(t *testing.T) {
	srv, s := setupTestServer(t)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	client := &models.Client{
		ClientID:                "code-only-app",
		Name:                    "Code Only App",
		RedirectURIs:            "https://codeonly.example.com/callback",
		GrantTypes:              "authorization_code",
		ResponseTypes:           "code",
		Scopes:                  "openid",
		TokenEndpointAuthMethod: "none",
		IsActive:                true,
	}
	require.NoError(t, s.CreateClient(client))

	verifier := "code-only-verifier"
	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://codeonly.example.com/callback", "code",
		"openid", util.S256Challenge(verifier), "S256")
	require.NoError(t, err)

	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)

	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "", "https://codeonly.example.com/callback", verifier)
	require.NoError(t, err)

	_, err = srv.RefreshTokens(ctx, resp.RefreshToken, client.ClientID, "", "")
	assert.ErrorIs(t, err, ErrUnsupportedGrantType)
}

func TestRefreshTokens_Rotation(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "s3cret")
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://server.example.com/callback", "code", "openid profile", "", "")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	first, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "s3cret", "https://server.example.com/callback", "")
	require.NoError(t, err)

	second, err := srv.RefreshTokens(ctx, first.RefreshToken, client.ClientID, "s3cret", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "openid profile", second.Scope)

	// Scope widening on refresh is refused.
	_, err = srv.RefreshTokens(ctx, second.RefreshToken, client.ClientID, "s3cret", "openid profile admin")
	assert.ErrorIs(t, err, ErrInvalidScope)

	// Narrowing is allowed.
	third, err := srv.RefreshTokens(ctx, second.RefreshToken, client.ClientID, "s3cret", "openid")
	require.NoError(t, err)
	assert.Equal(t, "openid", third.Scope)

	// Replaying the consumed refresh token revokes the lineage.
	_, err = srv.RefreshTokens(ctx, second.RefreshToken, client.ClientID, "s3cret", "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = srv.ValidateAccessToken(ctx, third.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestDeviceFlow(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	auth, err := srv.BeginDeviceAuthorization(ctx, client.ClientID, "openid profile")
	require.NoError(t, err)
	assert.Len(t, auth.DeviceCode, 40)
	assert.Len(t, auth.UserCode, 9) // "ABCD-EFGH"
	assert.Contains(t, auth.VerificationURIComplete, "user_code=")

	// Pending until the user decides.
	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	// The verification page resolves the displayed code, dashes and
	// lowercase included.
	grant, payload, err := srv.LookupUserCode(ctx, auth.UserCode)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, grant.ClientID)
	assert.Equal(t, "openid profile", payload.Scopes)

	require.NoError(t, srv.AuthorizeDevice(ctx, auth.UserCode, identity.ID))

	resp, err := srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "openid profile", resp.Scope)

	// The device code is gone after a successful exchange.
	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// Deciding twice is refused.
	err = srv.AuthorizeDevice(ctx, auth.UserCode, identity.ID)
	assert.Error(t, err)
}

func TestDeviceFlow_Denied(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	ctx := context.Background()

	auth, err := srv.BeginDeviceAuthorization(ctx, client.ClientID, "openid")
	require.NoError(t, err)

	require.NoError(t, srv.DenyDevice(ctx, auth.UserCode))

	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Denial destroys the grant.
	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestDeviceFlow_SlowDown(t *testing.T) {
	srv, s := setupTestServer(t)
	srv.config.PollingInterval = 5
	client := createPublicClient(t, s)
	ctx := context.Background()

	auth, err := srv.BeginDeviceAuthorization(ctx, client.ClientID, "openid")
	require.NoError(t, err)
	assert.Equal(t, 5, auth.Interval)

	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	// Polling again inside the interval is throttled.
	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, client.ClientID)
	assert.ErrorIs(t, err, ErrSlowDown)
}

func TestDeviceFlow_WrongClient(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createPublicClient(t, s)
	ctx := context.Background()

	auth, err := srv.BeginDeviceAuthorization(ctx, client.ClientID, "openid")
	require.NoError(t, err)

	_, err = srv.ExchangeDeviceCode(ctx, auth.DeviceCode, "some-other-client")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestIntrospect(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "s3cret")
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://server.example.com/callback", "code", "openid", "", "")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "s3cret", "https://server.example.com/callback", "")
	require.NoError(t, err)

	access := srv.Introspect(ctx, resp.AccessToken)
	assert.Equal(t, true, access["active"])
	assert.Equal(t, "Bearer", access["token_type"])
	assert.Equal(t, "1", access["sub"])

	refresh := srv.Introspect(ctx, resp.RefreshToken)
	assert.Equal(t, true, refresh["active"])
	assert.Equal(t, "refresh_token", refresh["token_type"])

	unknown := srv.Introspect(ctx, "no-such-token")
	assert.Equal(t, false, unknown["active"])
}

func TestRevoke(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "s3cret")
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://server.example.com/callback", "code", "openid", "", "")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "s3cret", "https://server.example.com/callback", "")
	require.NoError(t, err)

	// Revoking the refresh token tears down the access token too.
	require.NoError(t, srv.Revoke(ctx, resp.RefreshToken, client.ClientID))

	_, err = srv.ValidateAccessToken(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Equal(t, false, srv.Introspect(ctx, resp.RefreshToken)["active"])

	// Unknown tokens revoke silently (RFC 7009 §2.2).
	assert.NoError(t, srv.Revoke(ctx, "no-such-token", client.ClientID))
}

func TestRevoke_WrongClientIsSilentNoop(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "s3cret")
	identity := createServerIdentity(t, s)
	ctx := context.Background()

	req, err := srv.ValidateAuthorizationRequest(
		client.ClientID, "https://server.example.com/callback", "code", "openid", "", "")
	require.NoError(t, err)
	code, err := srv.CreateAuthorizationCode(ctx, identity.ID, req)
	require.NoError(t, err)
	resp, err := srv.ExchangeAuthorizationCode(
		ctx, code, client.ClientID, "s3cret", "https://server.example.com/callback", "")
	require.NoError(t, err)

	require.NoError(t, srv.Revoke(ctx, resp.AccessToken, "some-other-client"))

	_, err = srv.ValidateAccessToken(ctx, resp.AccessToken)
	assert.NoError(t, err)
}

func TestRegisterClient(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()

	confidential, err := srv.RegisterClient(ctx, RegisterClientRequest{
		Name:         "Backend Service",
		RedirectURIs: []string{"https://backend.example.com/cb"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, confidential.ClientID)
	assert.NotEmpty(t, confidential.Secret)
	assert.NotEmpty(t, confidential.SecretHash)
	assert.Equal(t, "openid profile email", confidential.Scopes)

	public, err := srv.RegisterClient(ctx, RegisterClientRequest{
		Name:         "SPA",
		RedirectURIs: []string{"https://spa.example.com/cb"},
		Public:       true,
	})
	require.NoError(t, err)
	assert.Empty(t, public.Secret)
	assert.True(t, public.IsPublic())
	assert.Equal(t, "none", public.TokenEndpointAuthMethod)

	_, err = srv.RegisterClient(ctx, RegisterClientRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrClientNameRequired)

	_, err = srv.RegisterClient(ctx, RegisterClientRequest{Name: "No Redirect"})
	assert.ErrorIs(t, err, ErrRedirectURIRequired)
}

func TestRegenerateClientSecret(t *testing.T) {
	srv, s := setupTestServer(t)
	client := createConfidentialClient(t, s, "old-secret")
	ctx := context.Background()

	newSecret, err := srv.RegenerateClientSecret(ctx, client.ClientID)
	require.NoError(t, err)
	assert.NotEmpty(t, newSecret)
	assert.NotEqual(t, "old-secret", newSecret)

	updated, err := s.GetClient(client.ClientID)
	require.NoError(t, err)
	assert.True(t, verifyClientSecret(updated.SecretHash, newSecret))
	assert.False(t, verifyClientSecret(updated.SecretHash, "old-secret"))

	public := createPublicClient(t, s)
	_, err = srv.RegenerateClientSecret(ctx, public.ClientID)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStoreAdapter_CleanupExpired(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(&models.Grant{
		ID:        "live-grant",
		Kind:      models.GrantKindAccessToken,
		ClientID:  "c",
		GrantID:   "g1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, s.CreateGrant(&models.Grant{
		ID:        "dead-grant",
		Kind:      models.GrantKindAccessToken,
		ClientID:  "c",
		GrantID:   "g2",
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	count, err := srv.storage.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = srv.storage.Find(ctx, models.GrantKindAccessToken, "live-grant")
	assert.NoError(t, err)
}
