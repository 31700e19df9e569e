package models

import (
	"time"
)

// Grant kind constants. Heterogeneous protocol artifacts share one
// physical table discriminated by kind; the typed payload is decoded
// above the storage boundary (internal/authsrv).
const (
	GrantKindAuthorizationCode = "authorization_code"
	GrantKindAccessToken       = "access_token"
	GrantKindRefreshToken      = "refresh_token"
	GrantKindDeviceCode        = "device_code"
	GrantKindUserCode          = "user_code"
)

// Grant is a persisted authorization-server protocol artifact.
type Grant struct {
	ID   string `gorm:"primaryKey"` // uuid
	Kind string `gorm:"not null;index:idx_grant_kind_secondary,priority:1"`

	// SecondaryKey supports lookups other than by id: token hash for
	// access/refresh tokens, the user code for device grants.
	SecondaryKey string `gorm:"index:idx_grant_kind_secondary,priority:2"`

	IdentityID int64  `gorm:"index"` // 0 until a subject is bound (e.g. pending device codes)
	ClientID   string `gorm:"not null;index"`

	// GrantID links all artifacts descending from one authorization
	// (code, tokens minted from it) so revocation can cascade.
	GrantID string `gorm:"index"`

	Payload string `gorm:"type:text"` // JSON, kind-specific shape

	ExpiresAt  time.Time `gorm:"index"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

func (g *Grant) IsExpired() bool {
	return time.Now().After(g.ExpiresAt)
}

// IsConsumed reports whether a single-use grant was already exchanged.
func (g *Grant) IsConsumed() bool {
	return g.ConsumedAt != nil
}
