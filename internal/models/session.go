package models

import (
	"time"
)

// Session wraps an access/refresh token pair behind an opaque random
// token. The opaque token is the only value ever handed to clients;
// the embedded pair never leaves the server.
type Session struct {
	Token      string `gorm:"primaryKey"` // opaque, >=48 random bytes URL-safe
	IdentityID int64  `gorm:"not null;index"`

	AccessToken      string `gorm:"type:text;not null"`
	RefreshToken     string `gorm:"type:text"`
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	// Overall session expiry, standard or remember-me tier
	ExpiresAt  time.Time `gorm:"index"`
	RememberMe bool

	UserAgent string
	IPAddress string

	IsActive       bool `gorm:"not null;default:true;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time `gorm:"index"`
}

func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// AccessRemaining returns the remaining access-token lifetime.
// Negative when already expired.
func (s *Session) AccessRemaining() time.Duration {
	return time.Until(s.AccessExpiresAt)
}

// NeedsRefresh reports whether the remaining access-token lifetime has
// dropped to or below the threshold.
func (s *Session) NeedsRefresh(threshold time.Duration) bool {
	return s.AccessRemaining() <= threshold
}
