package models

import (
	"time"
)

// Identity is the locally-owned user record. At delegated login the
// provider is authoritative for Email, Username, GivenName, FamilyName
// and EmailVerifiedAt; everything else is locally owned and never
// overwritten by sync.
type Identity struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ExternalID string `gorm:"index"` // delegated provider subject, empty for local-only accounts
	Email      string `gorm:"uniqueIndex;not null"`
	Username   string `gorm:"uniqueIndex;not null"`
	GivenName  string
	FamilyName string

	// Locally-owned fields
	PasswordHash string // empty for delegated-only identities
	Bio          string `gorm:"type:text"`
	AvatarURL    string
	Phone        string
	Locale       string `gorm:"default:'en'"`
	Role         string `gorm:"not null;default:'user'"`
	Status       string `gorm:"not null;default:'active'"`

	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsDelegated returns true if the identity is linked to the delegated provider.
func (i *Identity) IsDelegated() bool {
	return i.ExternalID != ""
}

// IsActive returns true if the identity status allows authentication.
func (i *Identity) IsActive() bool {
	return i.Status == "active"
}

// IsAdmin returns true if the identity has the admin role.
func (i *Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// FullName joins given and family name for display.
func (i *Identity) FullName() string {
	switch {
	case i.GivenName == "":
		return i.FamilyName
	case i.FamilyName == "":
		return i.GivenName
	default:
		return i.GivenName + " " + i.FamilyName
	}
}
