package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/learnhub-io/identity/internal/middleware"
	"github.com/learnhub-io/identity/internal/session"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the authenticated identity's own sessions.
type SessionHandler struct {
	sessions *session.Service
}

func NewSessionHandler(sess *session.Service) *SessionHandler {
	return &SessionHandler{sessions: sess}
}

type sessionView struct {
	ID             string    `json:"id"` // truncated token, sufficient to identify in a list
	UserAgent      string    `json:"user_agent"`
	IPAddress      string    `json:"ip_address"`
	RememberMe     bool      `json:"remember_me"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// List returns the identity's active sessions, most recent first. Full
// session tokens never leave the server; the id is a prefix used only
// to address entries in this list.
func (h *SessionHandler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}
	current, _ := middleware.SessionTokenFrom(c)

	records, err := h.sessions.List(c.Request.Context(), identity.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	views := make([]sessionView, 0, len(records))
	for _, record := range records {
		views = append(views, sessionView{
			ID:             tokenPrefix(record.Token),
			UserAgent:      record.UserAgent,
			IPAddress:      record.IPAddress,
			RememberMe:     record.RememberMe,
			Current:        record.Token == current,
			CreatedAt:      record.CreatedAt,
			LastActivityAt: record.LastActivityAt,
			ExpiresAt:      record.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// Revoke revokes one of the identity's sessions by its list id.
func (h *SessionHandler) Revoke(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}
	id := c.Param("id")

	records, err := h.sessions.List(c.Request.Context(), identity.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	for _, record := range records {
		if tokenPrefix(record.Token) != id {
			continue
		}
		if err := h.sessions.Revoke(c.Request.Context(), record.Token); err != nil &&
			!errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

// RevokeOthers revokes every session except the current one.
func (h *SessionHandler) RevokeOthers(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}
	current, ok := middleware.SessionTokenFrom(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "cookie session required",
		})
		return
	}

	count, err := h.sessions.RevokeOthers(c.Request.Context(), identity.ID, current)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

func tokenPrefix(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}
