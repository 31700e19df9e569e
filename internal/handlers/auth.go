package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/learnhub-io/identity/internal/cache"
	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/middleware"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/provider"
	"github.com/learnhub-io/identity/internal/session"
	"github.com/learnhub-io/identity/internal/store"
	identitysync "github.com/learnhub-io/identity/internal/sync"
	"github.com/learnhub-io/identity/internal/util"
	"github.com/learnhub-io/identity/internal/verifier"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// DelegatedLogin is the slice of the provider client the login paths
// need. Nil when no delegated provider is configured.
type DelegatedLogin interface {
	PasswordLogin(ctx context.Context, username, password string) (*provider.TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error)
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*provider.TokenSet, error)
}

// AuthHandler serves login, logout and profile endpoints.
type AuthHandler struct {
	config     *config.Config
	store      *store.Store
	verifier   *verifier.Verifier
	sessions   *session.Service
	resolver   *identitysync.Resolver
	delegated  DelegatedLogin
	stateCache cache.Cache[string]
	metrics    metrics.Recorder
}

func NewAuthHandler(
	cfg *config.Config,
	st *store.Store,
	v *verifier.Verifier,
	sess *session.Service,
	resolver *identitysync.Resolver,
	delegated DelegatedLogin,
	stateCache cache.Cache[string],
	m metrics.Recorder,
) *AuthHandler {
	return &AuthHandler{
		config:     cfg,
		store:      st,
		verifier:   v,
		sessions:   sess,
		resolver:   resolver,
		delegated:  delegated,
		stateCache: stateCache,
		metrics:    m,
	}
}

type loginRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	Identity *identityView `json:"identity"`
}

// Login authenticates a username/password pair. The delegated provider
// is the primary path for provider-owned accounts; the local password
// hash is primary for local accounts and the fallback when the
// provider is unreachable.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "username and password are required",
		})
		return
	}

	identity := h.lookupIdentity(req.Username)
	meta := session.Metadata{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}

	if h.delegated != nil && (identity == nil || identity.IsDelegated()) {
		h.loginDelegated(c, identity, req, meta)
		return
	}
	h.loginLocal(c, identity, req, meta)
}

func (h *AuthHandler) loginDelegated(
	c *gin.Context,
	identity *models.Identity,
	req loginRequest,
	meta session.Metadata,
) {
	ctx := c.Request.Context()

	set, err := h.delegated.PasswordLogin(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			// Provider down: local fallback only works for accounts
			// that still carry a local password hash.
			if identity != nil && identity.PasswordHash != "" {
				log.Printf("[Auth] Delegated login unavailable, falling back to local for %s", req.Username)
				h.loginLocal(c, identity, req, meta)
				return
			}
			h.metrics.RecordLogin("delegated", "unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":             "provider_unavailable",
				"error_description": "identity provider is unreachable",
			})
			return
		}
		h.metrics.RecordLogin("delegated", "failure")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credential",
			"error_description": "invalid username or password",
		})
		return
	}

	profile, err := h.delegated.UserInfo(ctx, set.AccessToken)
	if err != nil {
		h.metrics.RecordLogin("delegated", "failure")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "unresolvable_identity",
			"error_description": "could not resolve user profile",
		})
		return
	}

	synced, err := h.resolver.SyncDelegatedLogin(ctx, profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "identity synchronization failed",
		})
		return
	}

	pair := &verifier.TokenPair{
		AccessToken:      set.AccessToken,
		RefreshToken:     set.RefreshToken,
		AccessExpiresAt:  set.AccessExpiresAt,
		RefreshExpiresAt: set.RefreshExpiresAt,
	}
	h.finishLogin(c, synced, pair, req.RememberMe, meta, "delegated")
}

func (h *AuthHandler) loginLocal(
	c *gin.Context,
	identity *models.Identity,
	req loginRequest,
	meta session.Metadata,
) {
	if identity == nil || identity.PasswordHash == "" ||
		!h.verifier.VerifyLocal(req.Password, identity.PasswordHash) {
		h.metrics.RecordLogin("local", "failure")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credential",
			"error_description": "invalid username or password",
		})
		return
	}
	if !identity.IsActive() {
		h.metrics.RecordLogin("local", "failure")
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "account_disabled",
			"error_description": "account is not active",
		})
		return
	}

	permissions, err := h.store.PermissionsForRole(identity.Role)
	if err != nil {
		log.Printf("[Auth] Permission lookup for role %q failed, issuing without: %v", identity.Role, err)
	}
	pair, err := h.verifier.IssueLocalPair(
		identity.ID, identity.Email, identity.Username,
		[]string{identity.Role}, permissions,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "failed to issue tokens",
		})
		return
	}
	h.finishLogin(c, identity, pair, req.RememberMe, meta, "local")
}

// finishLogin wraps the verified pair in a session and binds its
// opaque token to the cookie.
func (h *AuthHandler) finishLogin(
	c *gin.Context,
	identity *models.Identity,
	pair *verifier.TokenPair,
	rememberMe bool,
	meta session.Metadata,
	method string,
) {
	token, err := h.sessions.Create(c.Request.Context(), identity.ID, pair, meta, rememberMe)
	if err != nil {
		h.metrics.RecordLogin(method, "failure")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "failed to create session",
		})
		return
	}

	cookieSession := sessions.Default(c)
	cookieSession.Set(middleware.SessionCookieKey, token)
	maxAge := int(h.config.SessionLifetime.Seconds())
	if rememberMe {
		maxAge = int(h.config.RememberMeLifetime.Seconds())
	}
	cookieSession.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.IsProduction,
		SameSite: sameSiteOf(h.config.SessionSameSite),
	})
	if err := cookieSession.Save(); err != nil {
		log.Printf("[Auth] Failed to save session cookie: %v", err)
	}

	h.metrics.RecordLogin(method, "success")
	c.JSON(http.StatusOK, loginResponse{Identity: viewOf(identity)})
}

// loginStatePrefix namespaces interactive-login state values in the
// state cache.
const loginStatePrefix = "login_state:"

// OIDCLogin starts the interactive delegated login: a one-time state
// value is parked in the state cache and the browser is redirected to
// the provider's authorization page.
func (h *AuthHandler) OIDCLogin(c *gin.Context) {
	if h.delegated == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "delegated_login_disabled",
			"error_description": "no identity provider is configured",
		})
		return
	}

	state, err := util.RandomToken(16)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if err := h.stateCache.Set(c.Request.Context(), loginStatePrefix+state, "pending", h.config.StateTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.Redirect(http.StatusFound, h.delegated.AuthCodeURL(state))
}

// OIDCCallback finishes the interactive delegated login. State is
// consumed exactly once; a replayed or expired callback is rejected
// before any code exchange happens.
func (h *AuthHandler) OIDCCallback(c *gin.Context) {
	if h.delegated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "delegated_login_disabled"})
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "state and code are required",
		})
		return
	}

	ctx := c.Request.Context()
	if _, err := cache.Take(ctx, h.stateCache, loginStatePrefix+state); err != nil {
		h.metrics.RecordLogin("delegated", "failure")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_state",
			"error_description": "unknown, expired or replayed state",
		})
		return
	}

	set, err := h.delegated.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			h.metrics.RecordLogin("delegated", "unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":             "provider_unavailable",
				"error_description": "identity provider is unreachable",
			})
			return
		}
		h.metrics.RecordLogin("delegated", "failure")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credential",
			"error_description": "authorization code exchange failed",
		})
		return
	}

	profile, err := h.delegated.UserInfo(ctx, set.AccessToken)
	if err != nil {
		h.metrics.RecordLogin("delegated", "failure")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "unresolvable_identity",
			"error_description": "could not resolve user profile",
		})
		return
	}

	synced, err := h.resolver.SyncDelegatedLogin(ctx, profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "identity synchronization failed",
		})
		return
	}

	pair := &verifier.TokenPair{
		AccessToken:      set.AccessToken,
		RefreshToken:     set.RefreshToken,
		AccessExpiresAt:  set.AccessExpiresAt,
		RefreshExpiresAt: set.RefreshExpiresAt,
	}
	meta := session.Metadata{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
	h.finishLogin(c, synced, pair, false, meta, "delegated")
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	cookieSession := sessions.Default(c)
	if token, ok := cookieSession.Get(middleware.SessionCookieKey).(string); ok && token != "" {
		if err := h.sessions.Revoke(c.Request.Context(), token); err != nil &&
			!errors.Is(err, session.ErrSessionNotFound) {
			log.Printf("[Auth] Session revocation on logout failed: %v", err)
		}
	}

	cookieSession.Clear()
	cookieSession.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := cookieSession.Save(); err != nil {
		log.Printf("[Auth] Failed to clear session cookie: %v", err)
	}

	h.metrics.RecordLogout()
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated identity together with the roles and
// permissions carried by the presented credential.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	response := gin.H{"identity": viewOf(identity)}
	if claims, ok := middleware.ClaimsFrom(c); ok {
		response["credential"] = gin.H{
			"source":      claims.Source,
			"roles":       claims.Roles,
			"permissions": claims.Permissions,
		}
	}
	c.JSON(http.StatusOK, response)
}

type updateProfileRequest struct {
	GivenName  *string `json:"given_name"`
	FamilyName *string `json:"family_name"`
	Bio        *string `json:"bio"`
	AvatarURL  *string `json:"avatar_url"`
	Phone      *string `json:"phone"`
	Locale     *string `json:"locale"`
}

// UpdateProfile updates profile fields of the authenticated identity.
// Name changes on delegated accounts are pushed back to the provider
// best-effort.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if req.GivenName != nil {
		identity.GivenName = *req.GivenName
	}
	if req.FamilyName != nil {
		identity.FamilyName = *req.FamilyName
	}
	if req.Bio != nil {
		identity.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		identity.AvatarURL = *req.AvatarURL
	}
	if req.Phone != nil {
		identity.Phone = *req.Phone
	}
	if req.Locale != nil {
		identity.Locale = *req.Locale
	}

	if err := h.store.UpdateIdentity(identity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	h.resolver.PushLocalProfile(c.Request.Context(), identity)
	c.JSON(http.StatusOK, viewOf(identity))
}

func (h *AuthHandler) lookupIdentity(usernameOrEmail string) *models.Identity {
	if identity, err := h.store.GetIdentityByUsername(usernameOrEmail); err == nil {
		return identity
	}
	if identity, err := h.store.GetIdentityByEmail(usernameOrEmail); err == nil {
		return identity
	}
	return nil
}

type identityView struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Bio           string `json:"bio,omitempty"`
	Locale        string `json:"locale,omitempty"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	Delegated     bool   `json:"delegated"`
}

func viewOf(identity *models.Identity) *identityView {
	return &identityView{
		ID:            identity.ID,
		Username:      identity.Username,
		Email:         identity.Email,
		Name:          identity.FullName(),
		AvatarURL:     identity.AvatarURL,
		Bio:           identity.Bio,
		Locale:        identity.Locale,
		Role:          identity.Role,
		Status:        identity.Status,
		EmailVerified: identity.EmailVerifiedAt != nil,
		Delegated:     identity.IsDelegated(),
	}
}

func sameSiteOf(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
