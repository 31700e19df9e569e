package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/session"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/verifier"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// SessionCookieKey is the key under which the opaque session token is
// stored in cookie storage.
const SessionCookieKey = "session_token"

// Dispatcher is the per-request authentication decision point. A
// bearer credential always takes priority over a session cookie, for
// consistent behavior across endpoints.
type Dispatcher struct {
	verifier *verifier.Verifier
	sessions *session.Service
	store    *store.Store
	public   map[string]struct{}
}

func NewDispatcher(v *verifier.Verifier, s *session.Service, st *store.Store) *Dispatcher {
	return &Dispatcher{
		verifier: v,
		sessions: s,
		store:    st,
		public:   make(map[string]struct{}),
	}
}

// MarkPublic exempts route paths from authentication.
func (d *Dispatcher) MarkPublic(paths ...string) {
	for _, path := range paths {
		d.public[path] = struct{}{}
	}
}

// Handler returns the gin middleware implementing the dispatch:
// public route -> allow; bearer -> credential verifier only; cookie ->
// session store with fire-and-forget refresh + activity ping; neither
// -> AuthenticationRequired.
func (d *Dispatcher) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := d.public[c.FullPath()]; ok {
			c.Next()
			return
		}

		if bearer := bearerToken(c); bearer != "" {
			d.dispatchBearer(c, bearer)
			return
		}

		if token := cookieToken(c); token != "" {
			d.dispatchCookie(c, token)
			return
		}

		abortUnauthorized(c, verifier.ErrAuthenticationRequired)
	}
}

func (d *Dispatcher) dispatchBearer(c *gin.Context, bearer string) {
	claims, err := d.verifier.Authenticate(c.Request.Context(), bearer)
	if err != nil {
		abortUnauthorized(c, err)
		return
	}

	identity, err := d.resolveIdentity(claims)
	if err != nil {
		abortUnauthorized(c, verifier.ErrUnresolvableIdentity)
		return
	}

	c.Set(contextClaimsKey, claims)
	c.Set(contextIdentityKey, identity)
	c.Next()
}

func (d *Dispatcher) dispatchCookie(c *gin.Context, token string) {
	resolved, err := d.sessions.Get(c.Request.Context(), token)
	if err != nil {
		abortUnauthorized(c, verifier.ErrAuthenticationRequired)
		return
	}

	// Opportunistic refresh and activity ping. Failures are logged and
	// never surfaced: they must not cancel or fail this request.
	go d.afterResolve(token)

	c.Set(contextIdentityKey, resolved.Identity)
	c.Set(contextSessionKey, token)
	c.Next()
}

// afterResolve runs the fire-and-forget post-resolution work with its
// own context so it survives the request.
func (d *Dispatcher) afterResolve(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if needs, err := d.sessions.NeedsRefresh(ctx, token); err == nil && needs {
		if err := d.sessions.Refresh(ctx, token); err != nil {
			log.Printf("[Auth] Opportunistic refresh failed: %v", err)
		}
	}
	if err := d.sessions.TouchActivity(ctx, token); err != nil {
		log.Printf("[Auth] Activity update failed: %v", err)
	}
}

// resolveIdentity maps verified claims onto the local identity record:
// numeric subjects are local ids, anything else is a delegated subject.
func (d *Dispatcher) resolveIdentity(claims *verifier.Claims) (*models.Identity, error) {
	if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
		return d.store.GetIdentityByID(id)
	}
	return d.store.GetIdentityByExternalID(claims.Subject)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func cookieToken(c *gin.Context) string {
	cookieSession := sessions.Default(c)
	token, _ := cookieSession.Get(SessionCookieKey).(string)
	return token
}

func abortUnauthorized(c *gin.Context, err error) {
	status := http.StatusUnauthorized
	code := "invalid_credential"
	switch {
	case errors.Is(err, verifier.ErrAuthenticationRequired):
		code = "authentication_required"
	case errors.Is(err, verifier.ErrExpiredCredential):
		code = "credential_expired"
	case errors.Is(err, verifier.ErrUnresolvableIdentity):
		code = "unresolvable_identity"
	case errors.Is(err, verifier.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
		code = "provider_unavailable"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":             code,
		"error_description": err.Error(),
	})
}

// RequireAdmin restricts a route to admin identities. Must run after
// the dispatcher.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok || !identity.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
			})
			return
		}
		c.Next()
	}
}
