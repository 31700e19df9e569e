package middleware

import (
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/verifier"

	"github.com/gin-gonic/gin"
)

const (
	contextIdentityKey = "auth_identity"
	contextClaimsKey   = "auth_claims"
	contextSessionKey  = "auth_session_token"
)

// IdentityFrom returns the identity attached by the auth dispatcher.
func IdentityFrom(c *gin.Context) (*models.Identity, bool) {
	value, exists := c.Get(contextIdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok
}

// ClaimsFrom returns the verified claims attached by the auth dispatcher.
func ClaimsFrom(c *gin.Context) (*verifier.Claims, bool) {
	value, exists := c.Get(contextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*verifier.Claims)
	return claims, ok
}

// SessionTokenFrom returns the opaque session token for cookie-path
// requests; bearer-path requests have none.
func SessionTokenFrom(c *gin.Context) (string, bool) {
	token := c.GetString(contextSessionKey)
	return token, token != ""
}
