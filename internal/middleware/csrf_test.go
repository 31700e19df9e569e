package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/learnhub-io/identity/internal/cache"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCSRFRouter(sessionToken string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	stateCache := cache.NewMemoryCache[string]()

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if sessionToken != "" {
			c.Set(contextSessionKey, sessionToken)
		}
		c.Next()
	})
	router.Use(CSRF(stateCache, time.Hour))

	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"csrf": CSRFTokenFrom(c)})
	}
	router.GET("/resource", handler)
	router.POST("/resource", handler)
	return router
}

func TestCSRF_IssuesTokenOnRead(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(csrfHeaderField))
}

func TestCSRF_TokenIsStablePerSession(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/resource", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/resource", nil))

	assert.Equal(t,
		first.Header().Get(csrfHeaderField),
		second.Header().Get(csrfHeaderField))
}

func TestCSRF_RejectsWriteWithoutToken(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/resource", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "csrf_validation_failed")
}

func TestCSRF_AcceptsHeaderEcho(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	read := httptest.NewRecorder()
	router.ServeHTTP(read, httptest.NewRequest(http.MethodGet, "/resource", nil))
	token := read.Header().Get(csrfHeaderField)
	require.NotEmpty(t, token)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.Header.Set(csrfHeaderField, token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRF_AcceptsFormField(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	read := httptest.NewRecorder()
	router.ServeHTTP(read, httptest.NewRequest(http.MethodGet, "/resource", nil))
	token := read.Header().Get(csrfHeaderField)
	require.NotEmpty(t, token)

	form := url.Values{"csrf_token": {token}}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/resource", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRF_RejectsWrongToken(t *testing.T) {
	router := setupCSRFRouter("session-abc")

	read := httptest.NewRecorder()
	router.ServeHTTP(read, httptest.NewRequest(http.MethodGet, "/resource", nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.Header.Set(csrfHeaderField, "not-the-issued-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCSRF_BearerRequestsExempt(t *testing.T) {
	// No session token in context: the request authenticated via
	// bearer and carries no ambient credential to protect.
	router := setupCSRFRouter("")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/resource", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(csrfHeaderField))
}
