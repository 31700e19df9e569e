package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/learnhub-io/identity/internal/authsrv"
	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/store"

	"github.com/gin-gonic/gin"
)

// OIDCHandler serves OIDC Discovery, JWKS and UserInfo.
type OIDCHandler struct {
	server *authsrv.Server
	store  *store.Store
	config *config.Config
}

func NewOIDCHandler(srv *authsrv.Server, st *store.Store, cfg *config.Config) *OIDCHandler {
	return &OIDCHandler{server: srv, store: st, config: cfg}
}

// discoveryMetadata holds the OIDC Provider Metadata returned by the
// discovery endpoint.
type discoveryMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JwksURI                          string   `json:"jwks_uri"`
	RegistrationEndpoint             string   `json:"registration_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	DeviceAuthorizationEndpoint      string   `json:"device_authorization_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
}

// Discovery serves the provider metadata document
// (RFC 8414 / OIDC Discovery 1.0).
func (h *OIDCHandler) Discovery(c *gin.Context) {
	base := strings.TrimRight(h.config.BaseURL, "/")
	meta := discoveryMetadata{
		Issuer:                           base,
		AuthorizationEndpoint:            base + "/oauth/authorize",
		TokenEndpoint:                    base + "/oauth/token",
		UserinfoEndpoint:                 base + "/oauth/userinfo",
		JwksURI:                          base + "/.well-known/jwks.json",
		RegistrationEndpoint:             base + "/oauth/register",
		IntrospectionEndpoint:            base + "/oauth/introspect",
		RevocationEndpoint:               base + "/oauth/revoke",
		DeviceAuthorizationEndpoint:      base + "/oauth/device/authorization",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile", "email", "roles"},
		TokenEndpointAuthMethods: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		GrantTypesSupported: []string{
			GrantTypeAuthorizationCode,
			GrantTypeRefreshToken,
			GrantTypeDeviceCode,
		},
		ClaimsSupported: []string{
			"sub",
			"iss",
			"name",
			"preferred_username",
			"email",
			"email_verified",
			"picture",
			"locale",
			"roles",
			"permissions",
			"updated_at",
		},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
	c.JSON(http.StatusOK, meta)
}

// JWKS serves the public signing key set (RFC 7517).
func (h *OIDCHandler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.server.Key().JWKS())
}

// UserInfo returns claims about the end-user behind a Bearer access
// token (OIDC Core 1.0 §5.3). Supports both GET and POST.
func (h *OIDCHandler) UserInfo(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "Bearer token required",
		})
		return
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	tokenClaims, err := h.server.ValidateAccessToken(c.Request.Context(), tokenString)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "token is invalid or revoked",
		})
		return
	}

	sub, _ := tokenClaims["sub"].(string)
	identityID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	identity, err := h.store.GetIdentityByID(identityID)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "user not found",
		})
		return
	}

	scopes, _ := tokenClaims["scope"].(string)
	claims := map[string]any{
		"sub": sub,
		"iss": strings.TrimRight(h.config.BaseURL, "/"),
	}
	scopeSet := make(map[string]bool)
	for _, sc := range strings.Fields(scopes) {
		scopeSet[sc] = true
	}

	if scopeSet["profile"] {
		claims["preferred_username"] = identity.Username
		if name := identity.FullName(); name != "" {
			claims["name"] = name
		}
		if identity.AvatarURL != "" {
			claims["picture"] = identity.AvatarURL
		}
		if identity.Locale != "" {
			claims["locale"] = identity.Locale
		}
		claims["updated_at"] = identity.UpdatedAt.Unix()
	}
	if scopeSet["email"] {
		claims["email"] = identity.Email
		claims["email_verified"] = identity.EmailVerifiedAt != nil
	}
	if scopeSet["roles"] {
		claims["roles"] = []string{identity.Role}
		if permissions, err := h.store.PermissionsForRole(identity.Role); err == nil && len(permissions) > 0 {
			claims["permissions"] = permissions
		}
	}

	c.JSON(http.StatusOK, claims)
}
