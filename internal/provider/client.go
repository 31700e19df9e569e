// Package provider implements the HTTP client for the delegated
// identity provider: token endpoint, introspection, userinfo, logout,
// and the admin user/role API. The provider exposes Keycloak-style
// realm endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/retry"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the delegated provider connection settings.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	RedirectURL  string // callback of the interactive login flow
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// TokenSet is the provider's token response. RefreshExpiresAt is zero
// when the provider omits a refresh-token lifetime.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Profile is the provider's canonical user profile from userinfo.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Username      string `json:"preferred_username"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Locale        string `json:"locale"`
}

// Client talks to the delegated provider.
type Client struct {
	cfg         Config
	oauth       *oauth2.Config
	admin       *clientcredentials.Config
	adminTokens oauth2.TokenSource
	http        *retry.Client
	httpClient  *http.Client
}

func NewClient(cfg Config) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	realmURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect", strings.TrimRight(cfg.BaseURL, "/"), cfg.Realm)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  realmURL + "/auth",
			TokenURL: realmURL + "/token",
		},
	}

	adminCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     realmURL + "/token",
	}

	adminCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Client{
		cfg:         cfg,
		oauth:       oauthCfg,
		admin:       adminCfg,
		adminTokens: adminCfg.TokenSource(adminCtx),
		http: retry.NewClient(
			retry.WithHTTPClient(httpClient),
			retry.WithMaxRetries(cfg.MaxRetries),
			retry.WithInitialRetryDelay(cfg.RetryDelay),
		),
		httpClient: httpClient,
	}
}

// Name identifies the provider in logs and claim sources.
func (c *Client) Name() string {
	return "delegated"
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Realm, path)
}

func (c *Client) adminEndpoint(path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Realm, path)
}

// oauthContext injects the timeout-bound HTTP client into x/oauth2 calls.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// PasswordLogin exchanges user credentials at the provider's token
// endpoint (resource owner password grant).
func (c *Client) PasswordLogin(ctx context.Context, username, password string) (*TokenSet, error) {
	token, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	return tokenSetFrom(token), nil
}

// AuthCodeURL builds the provider's authorization redirect for the
// interactive browser login flow. The state value binds the callback
// to this server's pending login.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code from the provider callback for
// a token set.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	token, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	return tokenSetFrom(token), nil
}

// Refresh exchanges a refresh token for a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	source := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	return tokenSetFrom(token), nil
}

func tokenSetFrom(token *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		AccessExpiresAt: token.Expiry,
	}
	// refresh_expires_in is a provider extension; zero means "not reported"
	if v, ok := token.Extra("refresh_expires_in").(float64); ok && v > 0 {
		set.RefreshExpiresAt = time.Now().Add(time.Duration(v) * time.Second)
	}
	return set
}

// classifyOAuthError separates credential rejections from provider outages.
func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return fmt.Errorf("%w: %s", ErrLoginFailed, retrieveErr.ErrorCode)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ValidateToken introspects a token at the provider (RFC 7662). The
// raw claim map is returned for normalization by the verifier.
func (c *Client) ValidateToken(ctx context.Context, token string) (map[string]any, error) {
	form := url.Values{
		"token":         {token},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/token/introspect"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: introspection %s - %s", ErrUnavailable, resp.Status, string(body))
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	active, _ := claims["active"].(bool)
	if !active {
		// Introspection reports "active: false" for expired tokens too;
		// the exp claim distinguishes expiry from outright rejection.
		if exp, ok := claims["exp"].(float64); ok && time.Unix(int64(exp), 0).Before(time.Now()) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// UserInfo fetches the provider's canonical profile for an access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/userinfo"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrTokenInvalid
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: userinfo %s - %s", ErrUnavailable, resp.Status, string(body))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if profile.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &profile, nil
}

// Logout terminates the provider-side session for a refresh token.
// Callers treat failures as non-fatal.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/logout"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: logout %s - %s", ErrUnavailable, resp.Status, string(body))
	}
	return nil
}
