package models

import (
	"strings"
	"time"
)

// Client is a registered OAuth client. A client with an empty
// SecretHash is public and must use PKCE.
type Client struct {
	ClientID   string `gorm:"primaryKey"`
	SecretHash string // bcrypt hash; empty = public client
	Name       string `gorm:"not null"`

	RedirectURIs  string `gorm:"type:text"` // comma-separated
	GrantTypes    string `gorm:"not null;default:'authorization_code'"`
	ResponseTypes string `gorm:"not null;default:'code'"`
	Scopes        string `gorm:"not null"` // space-separated

	TokenEndpointAuthMethod string `gorm:"not null;default:'client_secret_basic'"`
	IsActive                bool   `gorm:"not null;default:true"`
	CreatedBy               int64  // identity id of the registrant, 0 for seeded clients

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Client) TableName() string {
	return "oauth_clients"
}

// IsPublic reports whether the client was registered without a secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == ""
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range strings.Split(c.RedirectURIs, ",") {
		if strings.TrimSpace(registered) == uri {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the grant type is allowed for this client.
func (c *Client) HasGrantType(grantType string) bool {
	for _, gt := range strings.Split(c.GrantTypes, ",") {
		if strings.TrimSpace(gt) == grantType {
			return true
		}
	}
	return false
}
