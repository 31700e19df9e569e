package authsrv

import (
	"context"
	"errors"
	"strings"

	"github.com/learnhub-io/identity/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrClientNameRequired  = errors.New("client name is required")
	ErrRedirectURIRequired = errors.New("at least one redirect_uri is required")
)

// RegisterClientRequest is a dynamic client registration request
// (RFC 7591). Public=true registers a client without a secret; such
// clients must use PKCE on every authorization.
type RegisterClientRequest struct {
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       string
	Public       bool
	CreatedBy    int64
}

// RegisteredClient carries the registration result. Secret is the
// plaintext client secret, populated exactly once at creation; only
// its bcrypt hash is stored.
type RegisteredClient struct {
	*models.Client
	Secret string
}

// RegisterClient creates a new OAuth client.
func (s *Server) RegisterClient(ctx context.Context, req RegisterClientRequest) (*RegisteredClient, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrClientNameRequired
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	needsRedirect := false
	for _, gt := range grantTypes {
		if gt == "authorization_code" {
			needsRedirect = true
		}
	}
	if needsRedirect && len(req.RedirectURIs) == 0 {
		return nil, ErrRedirectURIRequired
	}

	scopes := strings.TrimSpace(req.Scopes)
	if scopes == "" {
		scopes = strings.Join(s.config.DefaultClientScopes, " ")
	}

	client := &models.Client{
		ClientID:     uuid.New().String(),
		Name:         strings.TrimSpace(req.Name),
		RedirectURIs: strings.Join(req.RedirectURIs, ","),
		GrantTypes:   strings.Join(grantTypes, ","),
		Scopes:       scopes,
		IsActive:     true,
		CreatedBy:    req.CreatedBy,
	}

	var plainSecret string
	if req.Public {
		client.TokenEndpointAuthMethod = "none"
	} else {
		plainSecret = uuid.New().String()
		secretHash, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		client.SecretHash = string(secretHash)
	}

	if err := s.store.CreateClient(client); err != nil {
		return nil, err
	}

	return &RegisteredClient{Client: client, Secret: plainSecret}, nil
}

// RegenerateClientSecret replaces a confidential client's secret and
// returns the new plaintext once.
func (s *Server) RegenerateClientSecret(ctx context.Context, clientID string) (string, error) {
	client, err := s.store.GetClient(clientID)
	if err != nil {
		return "", ErrInvalidClient
	}
	if client.IsPublic() {
		return "", ErrInvalidRequest
	}

	newSecret := uuid.New().String()
	secretHash, err := bcrypt.GenerateFromPassword([]byte(newSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	client.SecretHash = string(secretHash)
	if err := s.store.UpdateClient(client); err != nil {
		return "", err
	}
	return newSecret, nil
}
