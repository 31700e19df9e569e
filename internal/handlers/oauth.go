package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/learnhub-io/identity/internal/authsrv"
	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/middleware"

	"github.com/gin-gonic/gin"
)

const (
	// https://datatracker.ietf.org/doc/html/rfc8628#section-3.4
	GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"
	// https://datatracker.ietf.org/doc/html/rfc6749#section-6
	GrantTypeRefreshToken = "refresh_token"
	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1
	GrantTypeAuthorizationCode = "authorization_code"
)

// OAuthHandler serves the authorization server protocol endpoints.
type OAuthHandler struct {
	server *authsrv.Server
	config *config.Config
}

func NewOAuthHandler(srv *authsrv.Server, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{server: srv, config: cfg}
}

// Authorize is the authorization endpoint (RFC 6749 §3.1). The
// dispatcher runs first, so an unauthenticated browser already got a
// 401 before this handler sees the request.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	req, err := h.server.ValidateAuthorizationRequest(
		c.Query("client_id"),
		c.Query("redirect_uri"),
		c.Query("response_type"),
		c.Query("scope"),
		c.Query("code_challenge"),
		c.Query("code_challenge_method"),
	)
	if err != nil {
		// Validation failures must not redirect to an unvalidated URI.
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             oauthErrorCode(err),
			"error_description": err.Error(),
		})
		return
	}
	req.State = c.Query("state")
	req.Nonce = c.Query("nonce")

	code, err := h.server.CreateAuthorizationCode(c.Request.Context(), identity.ID, req)
	if err != nil {
		redirectError(c, req.RedirectURI, "server_error", req.State)
		return
	}

	redirect, _ := url.Parse(req.RedirectURI)
	query := redirect.Query()
	query.Set("code", code)
	if req.State != "" {
		query.Set("state", req.State)
	}
	redirect.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}

// Token is the token endpoint (RFC 6749 §3.2) dispatching on grant_type.
func (h *OAuthHandler) Token(c *gin.Context) {
	switch c.PostForm("grant_type") {
	case GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(c)
	case GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(c)
	case GrantTypeDeviceCode:
		h.handleDeviceCodeGrant(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported_grant_type",
			"error_description": "Supported grant types: authorization_code, refresh_token, device_code",
		})
	}
}

func (h *OAuthHandler) handleAuthorizationCodeGrant(c *gin.Context) {
	code := c.PostForm("code")
	redirectURI := c.PostForm("redirect_uri")
	clientID, clientSecret := clientCredentials(c)
	codeVerifier := c.PostForm("code_verifier") // empty for confidential clients

	if code == "" || clientID == "" || redirectURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "code, client_id and redirect_uri are required",
		})
		return
	}

	resp, err := h.server.ExchangeAuthorizationCode(
		c.Request.Context(), code, clientID, clientSecret, redirectURI, codeVerifier)
	if err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *OAuthHandler) handleRefreshTokenGrant(c *gin.Context) {
	refreshToken := c.PostForm("refresh_token")
	clientID, clientSecret := clientCredentials(c)
	scope := c.PostForm("scope")

	if refreshToken == "" || clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "refresh_token and client_id are required",
		})
		return
	}

	resp, err := h.server.RefreshTokens(c.Request.Context(), refreshToken, clientID, clientSecret, scope)
	if err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *OAuthHandler) handleDeviceCodeGrant(c *gin.Context) {
	deviceCode := c.PostForm("device_code")
	clientID, _ := clientCredentials(c)

	if deviceCode == "" || clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "device_code and client_id are required",
		})
		return
	}

	resp, err := h.server.ExchangeDeviceCode(c.Request.Context(), deviceCode, clientID)
	if err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeviceAuthorization is the device authorization endpoint (RFC 8628 §3.1).
func (h *OAuthHandler) DeviceAuthorization(c *gin.Context) {
	clientID, _ := clientCredentials(c)
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "client_id is required",
		})
		return
	}

	resp, err := h.server.BeginDeviceAuthorization(c.Request.Context(), clientID, c.PostForm("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             oauthErrorCode(err),
			"error_description": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

type deviceDecisionRequest struct {
	UserCode string `json:"user_code" binding:"required"`
	Approve  bool   `json:"approve"`
}

// DeviceVerify shows which client is behind a user code.
func (h *OAuthHandler) DeviceVerify(c *gin.Context) {
	userCode := c.Query("user_code")
	if userCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, payload, err := h.server.LookupUserCode(c.Request.Context(), userCode)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             oauthErrorCode(err),
			"error_description": "unknown or expired code",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id": grant.ClientID,
		"scopes":    payload.Scopes,
	})
}

// DeviceDecision records the user's approval or denial for a pending
// device grant.
func (h *OAuthHandler) DeviceDecision(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	var req deviceDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var err error
	if req.Approve {
		err = h.server.AuthorizeDevice(c.Request.Context(), req.UserCode, identity.ID)
	} else {
		err = h.server.DenyDevice(c.Request.Context(), req.UserCode)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             oauthErrorCode(err),
			"error_description": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "decision recorded"})
}

// Introspect implements RFC 7662. Unknown tokens report active=false.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "token is required",
		})
		return
	}
	c.JSON(http.StatusOK, h.server.Introspect(c.Request.Context(), token))
}

// Revoke implements RFC 7009. The endpoint answers 200 even for
// unknown tokens.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	token := c.PostForm("token")
	clientID, _ := clientCredentials(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "token is required",
		})
		return
	}

	if err := h.server.Revoke(c.Request.Context(), token, clientID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.Status(http.StatusOK)
}

type registerClientRequest struct {
	Name         string   `json:"name" binding:"required"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       string   `json:"scopes"`
	Public       bool     `json:"public"`
}

// RegisterClient is the dynamic client registration endpoint. Admin
// only; the plaintext secret appears exactly once in the response.
func (h *OAuthHandler) RegisterClient(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	var req registerClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "name is required",
		})
		return
	}

	registered, err := h.server.RegisterClient(c.Request.Context(), authsrv.RegisterClientRequest{
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       req.Scopes,
		Public:       req.Public,
		CreatedBy:    identity.ID,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_client_metadata",
			"error_description": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"client_id":     registered.ClientID,
		"client_secret": registered.Secret,
		"name":          registered.Name,
		"redirect_uris": registered.RedirectURIs,
		"grant_types":   registered.GrantTypes,
		"scopes":        registered.Scopes,
	})
}

// RegenerateSecret replaces a confidential client's secret. Admin
// only; the new plaintext secret appears exactly once in the response.
func (h *OAuthHandler) RegenerateSecret(c *gin.Context) {
	secret, err := h.server.RegenerateClientSecret(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		if errors.Is(err, authsrv.ErrInvalidClient) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid_client"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             oauthErrorCode(err),
			"error_description": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id":     c.Param("client_id"),
		"client_secret": secret,
	})
}

// tokenError maps service errors onto RFC 6749 §5.2 responses.
func tokenError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	code := oauthErrorCode(err)
	if errors.Is(err, authsrv.ErrInvalidClient) {
		status = http.StatusUnauthorized
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
	}
	c.JSON(status, gin.H{
		"error":             code,
		"error_description": err.Error(),
	})
}

func oauthErrorCode(err error) string {
	switch {
	case errors.Is(err, authsrv.ErrUnsupportedResponseType):
		return "unsupported_response_type"
	case errors.Is(err, authsrv.ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, authsrv.ErrUnauthorizedClient):
		return "unauthorized_client"
	case errors.Is(err, authsrv.ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, authsrv.ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, authsrv.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, authsrv.ErrAuthorizationPending):
		return "authorization_pending"
	case errors.Is(err, authsrv.ErrSlowDown):
		return "slow_down"
	case errors.Is(err, authsrv.ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, authsrv.ErrPKCERequired),
		errors.Is(err, authsrv.ErrInvalidRedirectURI),
		errors.Is(err, authsrv.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, authsrv.ErrInvalidCodeVerifier),
		errors.Is(err, authsrv.ErrInvalidGrant),
		errors.Is(err, authsrv.ErrCodeAlreadyUsed),
		errors.Is(err, authsrv.ErrGrantNotFound):
		return "invalid_grant"
	default:
		return "server_error"
	}
}

// clientCredentials reads client authentication from Basic auth or the
// form body (RFC 6749 §2.3.1 allows both).
func clientCredentials(c *gin.Context) (clientID, clientSecret string) {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		unescapedID, err := url.QueryUnescape(id)
		if err != nil {
			return "", ""
		}
		unescapedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return "", ""
		}
		return unescapedID, unescapedSecret
	}
	return c.PostForm("client_id"), c.PostForm("client_secret")
}

func redirectError(c *gin.Context, redirectURI, code, state string) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}
	query := redirect.Query()
	query.Set("error", code)
	if state != "" {
		query.Set("state", state)
	}
	redirect.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}
