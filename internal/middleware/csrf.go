package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/learnhub-io/identity/internal/cache"
	"github.com/learnhub-io/identity/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	csrfContextKey   = "csrf_token"
	csrfHeaderField  = "X-CSRF-Token"
	csrfCachePrefix  = "csrf:"
	csrfTokenEntropy = 32
)

// CSRF protects cookie-authenticated state-changing requests. Tokens
// live in the state cache keyed by session token, so they survive
// exactly as long as the session's cache entry and are shared across
// replicas when the cache is Redis-backed. Bearer-authenticated
// requests carry no ambient credential and are exempt.
func CSRF(stateCache cache.Cache[string], ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionToken, ok := SessionTokenFrom(c)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := csrfCachePrefix + sessionToken

		token, err := stateCache.Get(ctx, key)
		if errors.Is(err, cache.ErrCacheMiss) {
			token, err = util.RandomToken(csrfTokenEntropy)
			if err == nil {
				err = stateCache.Set(ctx, key, token, ttl)
			}
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to establish csrf token",
			})
			return
		}

		// Expose the token so clients can echo it back.
		c.Set(csrfContextKey, token)
		c.Header(csrfHeaderField, token)

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			submitted := c.GetHeader(csrfHeaderField)
			if submitted == "" {
				submitted = c.PostForm("csrf_token")
			}
			if submitted == "" || submitted != token {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":             "csrf_validation_failed",
					"error_description": "missing or invalid CSRF token",
				})
				return
			}
		}

		c.Next()
	}
}

// CSRFTokenFrom retrieves the CSRF token bound to the current session.
func CSRFTokenFrom(c *gin.Context) string {
	if token, exists := c.Get(csrfContextKey); exists {
		if tokenStr, ok := token.(string); ok {
			return tokenStr
		}
	}
	return ""
}
