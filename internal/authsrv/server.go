package authsrv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/store"
	"github.com/learnhub-io/identity/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthorizationRequest holds validated parameters of an incoming
// authorization request.
type AuthorizationRequest struct {
	Client              *models.Client
	RedirectURI         string
	Scopes              string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenResponse is the token endpoint response body (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Server implements the OAuth 2.0 / OIDC authorization server on top
// of the grant storage adapter. Identity lookups go straight to the
// relational store; protocol artifacts only ever touch Storage.
type Server struct {
	storage Storage
	store   *store.Store
	config  *config.Config
	key     *SigningKey
	metrics metrics.Recorder
}

func NewServer(
	storage Storage,
	st *store.Store,
	cfg *config.Config,
	key *SigningKey,
	m metrics.Recorder,
) *Server {
	return &Server{
		storage: storage,
		store:   st,
		config:  cfg,
		key:     key,
		metrics: m,
	}
}

// Key exposes the signing key for the JWKS endpoint.
func (s *Server) Key() *SigningKey { return s.key }

// ValidateAuthorizationRequest validates all parameters of an
// authorization request before any user interaction happens.
func (s *Server) ValidateAuthorizationRequest(
	clientID, redirectURI, responseType, scope, codeChallenge, codeChallengeMethod string,
) (*AuthorizationRequest, error) {
	if responseType != "code" {
		return nil, ErrUnsupportedResponseType
	}

	client, err := s.store.GetClient(clientID)
	if err != nil || !client.IsActive {
		return nil, ErrUnauthorizedClient
	}
	if !client.HasGrantType("authorization_code") {
		return nil, ErrUnauthorizedClient
	}

	if !client.HasRedirectURI(redirectURI) {
		return nil, ErrInvalidRedirectURI
	}

	if scope != "" && !scopeSubset(client.Scopes, scope) {
		return nil, ErrInvalidScope
	}
	if scope == "" {
		scope = client.Scopes
	}

	// Public clients cannot keep a secret, so the code exchange has
	// nothing else to bind them to: PKCE is mandatory for them.
	if client.IsPublic() && codeChallenge == "" {
		return nil, ErrPKCERequired
	}
	if s.config.PKCERequired && codeChallenge == "" {
		return nil, ErrPKCERequired
	}
	if codeChallengeMethod != "" && codeChallengeMethod != "S256" && codeChallengeMethod != "plain" {
		return nil, ErrInvalidRequest
	}
	if codeChallenge != "" && codeChallengeMethod == "" {
		codeChallengeMethod = "plain"
	}

	return &AuthorizationRequest{
		Client:              client,
		RedirectURI:         redirectURI,
		Scopes:              scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	}, nil
}

// CreateAuthorizationCode issues a single-use code bound to the
// validated request. The plaintext code never hits storage; its hash
// is the grant id.
func (s *Server) CreateAuthorizationCode(
	ctx context.Context,
	identityID int64,
	req *AuthorizationRequest,
) (string, error) {
	rawBytes, err := util.CryptoRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	plainCode := hex.EncodeToString(rawBytes)

	payload, err := encodePayload(AuthorizationCodePayload{
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
	})
	if err != nil {
		return "", err
	}

	grant := &models.Grant{
		ID:         util.SHA256Hex(plainCode),
		Kind:       models.GrantKindAuthorizationCode,
		IdentityID: identityID,
		ClientID:   req.Client.ClientID,
		GrantID:    uuid.New().String(),
		Payload:    payload,
		ExpiresAt:  time.Now().Add(s.config.AuthCodeExpiration),
	}

	if err := s.storage.Save(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	return plainCode, nil
}

// ExchangeAuthorizationCode validates a code and client credentials,
// consumes the code exactly once, and issues tokens. A replayed code
// revokes everything previously minted from the same authorization.
func (s *Server) ExchangeAuthorizationCode(
	ctx context.Context,
	plainCode, clientID, clientSecret, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	grant, err := s.storage.Find(ctx, models.GrantKindAuthorizationCode, util.SHA256Hex(plainCode))
	if err != nil {
		s.metrics.RecordGrantConsumed(models.GrantKindAuthorizationCode, "not_found")
		return nil, ErrInvalidGrant
	}

	if grant.IsExpired() {
		_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
		s.metrics.RecordGrantConsumed(grant.Kind, "expired")
		return nil, ErrInvalidGrant
	}
	if grant.ClientID != clientID {
		// Do not reveal that the code exists for another client.
		return nil, ErrInvalidGrant
	}

	var payload AuthorizationCodePayload
	if err := decodePayload(grant.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.RedirectURI != redirectURI {
		return nil, ErrInvalidRedirectURI
	}

	client, err := s.store.GetClient(clientID)
	if err != nil || !client.IsActive {
		return nil, ErrUnauthorizedClient
	}
	if client.IsPublic() {
		if payload.CodeChallenge == "" {
			return nil, ErrPKCERequired
		}
		if !verifyPKCE(payload.CodeChallenge, payload.CodeChallengeMethod, codeVerifier) {
			return nil, ErrInvalidCodeVerifier
		}
	} else {
		if !verifyClientSecret(client.SecretHash, clientSecret) {
			return nil, ErrInvalidClient
		}
		if payload.CodeChallenge != "" &&
			!verifyPKCE(payload.CodeChallenge, payload.CodeChallengeMethod, codeVerifier) {
			return nil, ErrInvalidCodeVerifier
		}
	}

	// The guarded consume makes concurrent exchanges race-safe: exactly
	// one caller wins. A replay indicates the code leaked, so everything
	// descending from this authorization gets revoked (RFC 6749 §4.1.2).
	if err := s.storage.MarkConsumed(ctx, grant.Kind, grant.ID); err != nil {
		if errors.Is(err, ErrCodeAlreadyUsed) {
			_, _ = s.storage.RevokeByGrantID(ctx, grant.GrantID)
			s.metrics.RecordGrantConsumed(grant.Kind, "replayed")
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	s.metrics.RecordGrantConsumed(grant.Kind, "success")

	resp, err := s.issueTokens(ctx, grant.IdentityID, clientID, grant.GrantID, payload.Scopes, payload.Nonce)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued("authorization_code")
	return resp, nil
}

// RefreshTokens rotates a refresh token for a new pair. The old
// refresh token is consumed; reuse revokes the whole authorization.
func (s *Server) RefreshTokens(
	ctx context.Context,
	refreshToken, clientID, clientSecret, scope string,
) (*TokenResponse, error) {
	grant, err := s.storage.FindBySecondaryKey(
		ctx, models.GrantKindRefreshToken, util.SHA256Hex(refreshToken))
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if grant.IsExpired() {
		_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
		return nil, ErrInvalidGrant
	}
	if grant.ClientID != clientID {
		return nil, ErrInvalidGrant
	}

	client, err := s.store.GetClient(clientID)
	if err != nil || !client.IsActive {
		return nil, ErrUnauthorizedClient
	}
	if !client.HasGrantType("refresh_token") {
		return nil, ErrUnsupportedGrantType
	}
	if !client.IsPublic() && !verifyClientSecret(client.SecretHash, clientSecret) {
		return nil, ErrInvalidClient
	}

	var payload TokenPayload
	if err := decodePayload(grant.Payload, &payload); err != nil {
		return nil, err
	}

	// Narrowing is allowed, widening is not (RFC 6749 §6).
	if scope != "" {
		if !scopeSubset(payload.Scopes, scope) {
			return nil, ErrInvalidScope
		}
		payload.Scopes = scope
	}

	if err := s.storage.MarkConsumed(ctx, grant.Kind, grant.ID); err != nil {
		if errors.Is(err, ErrCodeAlreadyUsed) {
			_, _ = s.storage.RevokeByGrantID(ctx, grant.GrantID)
			s.metrics.RecordGrantConsumed(grant.Kind, "replayed")
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	s.metrics.RecordGrantConsumed(grant.Kind, "success")

	resp, err := s.issueTokens(ctx, grant.IdentityID, clientID, grant.GrantID, payload.Scopes, "")
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued("refresh_token")
	return resp, nil
}

// issueTokens mints an RS256 access token plus an opaque refresh
// token, records both under the originating grant id, and returns the
// wire response.
func (s *Server) issueTokens(
	ctx context.Context,
	identityID int64,
	clientID, grantID, scopes, nonce string,
) (*TokenResponse, error) {
	identity, err := s.store.GetIdentityByID(identityID)
	if err != nil {
		return nil, ErrAccessDenied
	}
	if !identity.IsActive() {
		return nil, ErrAccessDenied
	}

	now := time.Now()
	jti := uuid.New().String()
	accessExpiry := now.Add(s.config.AccessTokenExpiration)

	claims := s.buildAccessClaims(identity, clientID, scopes, nonce, jti, now, accessExpiry)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.key.KeyID
	accessToken, err := token.SignedString(s.key.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := util.RandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	tokenPayload, err := encodePayload(TokenPayload{Scopes: scopes, JTI: jti})
	if err != nil {
		return nil, err
	}

	accessGrant := &models.Grant{
		ID:         jti,
		Kind:       models.GrantKindAccessToken,
		IdentityID: identityID,
		ClientID:   clientID,
		GrantID:    grantID,
		Payload:    tokenPayload,
		ExpiresAt:  accessExpiry,
	}
	refreshGrant := &models.Grant{
		ID:           uuid.New().String(),
		Kind:         models.GrantKindRefreshToken,
		SecondaryKey: util.SHA256Hex(refreshToken),
		IdentityID:   identityID,
		ClientID:     clientID,
		GrantID:      grantID,
		Payload:      tokenPayload,
		ExpiresAt:    now.Add(s.config.RefreshTokenExpiration),
	}

	if err := s.storage.Save(ctx, accessGrant); err != nil {
		return nil, fmt.Errorf("failed to record access token: %w", err)
	}
	if err := s.storage.Save(ctx, refreshGrant); err != nil {
		return nil, fmt.Errorf("failed to record refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.AccessTokenExpiration.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scopes,
	}, nil
}

// buildAccessClaims assembles the signed claim set. Profile and email
// claims are gated by their scopes; the roles scope carries the local
// role and permission assignments.
func (s *Server) buildAccessClaims(
	identity *models.Identity,
	clientID, scopes, nonce, jti string,
	issuedAt, expiresAt time.Time,
) jwt.MapClaims {
	scopeSet := scopeSetOf(scopes)

	claims := jwt.MapClaims{
		"iss":       strings.TrimRight(s.config.BaseURL, "/"),
		"sub":       strconv.FormatInt(identity.ID, 10),
		"aud":       clientID,
		"client_id": clientID,
		"scope":     scopes,
		"jti":       jti,
		"iat":       issuedAt.Unix(),
		"exp":       expiresAt.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if scopeSet["profile"] {
		claims["preferred_username"] = identity.Username
		if name := identity.FullName(); name != "" {
			claims["name"] = name
		}
	}
	if scopeSet["email"] {
		claims["email"] = identity.Email
		claims["email_verified"] = identity.EmailVerifiedAt != nil
	}
	if scopeSet["roles"] {
		claims["roles"] = []string{identity.Role}
		permissions, err := s.store.PermissionsForRole(identity.Role)
		if err != nil {
			log.Printf("[AuthServer] Permission lookup for role %q failed, omitting claim: %v", identity.Role, err)
		} else if len(permissions) > 0 {
			claims["permissions"] = permissions
		}
	}
	return claims
}

// ValidateAccessToken verifies an issued RS256 token and checks it has
// not been revoked.
func (s *Server) ValidateAccessToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return &s.key.Private.PublicKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidGrant
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidGrant
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, ErrInvalidGrant
	}

	// Revocation check: the grant record must still exist.
	grant, err := s.storage.Find(ctx, models.GrantKindAccessToken, jti)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if grant.IsExpired() || grant.IsConsumed() {
		return nil, ErrInvalidGrant
	}

	return claims, nil
}

// Introspect implements RFC 7662 for both signed access tokens and
// opaque refresh tokens. Unknown or revoked tokens report active=false
// rather than an error.
func (s *Server) Introspect(ctx context.Context, tokenString string) map[string]any {
	if claims, err := s.ValidateAccessToken(ctx, tokenString); err == nil {
		result := map[string]any{
			"active":     true,
			"token_type": "Bearer",
		}
		for _, key := range []string{"sub", "aud", "client_id", "scope", "jti", "iat", "exp", "iss"} {
			if v, ok := claims[key]; ok {
				result[key] = v
			}
		}
		return result
	}

	grant, err := s.storage.FindBySecondaryKey(
		ctx, models.GrantKindRefreshToken, util.SHA256Hex(tokenString))
	if err == nil && !grant.IsExpired() && !grant.IsConsumed() {
		var payload TokenPayload
		_ = decodePayload(grant.Payload, &payload)
		return map[string]any{
			"active":     true,
			"token_type": "refresh_token",
			"sub":        strconv.FormatInt(grant.IdentityID, 10),
			"client_id":  grant.ClientID,
			"scope":      payload.Scopes,
			"exp":        grant.ExpiresAt.Unix(),
		}
	}

	return map[string]any{"active": false}
}

// Revoke implements RFC 7009. Revoking either token of a pair tears
// down the entire authorization they descend from. Unknown tokens are
// not an error.
func (s *Server) Revoke(ctx context.Context, tokenString, clientID string) error {
	grantID := ""

	if claims, err := s.ValidateAccessToken(ctx, tokenString); err == nil {
		jti, _ := claims["jti"].(string)
		if grant, err := s.storage.Find(ctx, models.GrantKindAccessToken, jti); err == nil {
			if grant.ClientID != clientID {
				return nil
			}
			grantID = grant.GrantID
		}
	} else if grant, err := s.storage.FindBySecondaryKey(
		ctx, models.GrantKindRefreshToken, util.SHA256Hex(tokenString)); err == nil {
		if grant.ClientID != clientID {
			return nil
		}
		grantID = grant.GrantID
	}

	if grantID == "" {
		return nil
	}
	if _, err := s.storage.RevokeByGrantID(ctx, grantID); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func verifyPKCE(codeChallenge, method, codeVerifier string) bool {
	if codeVerifier == "" {
		return false
	}
	switch strings.ToUpper(method) {
	case "S256":
		return util.S256Challenge(codeVerifier) == codeChallenge
	case "PLAIN", "":
		return codeVerifier == codeChallenge
	default:
		return false
	}
}

func verifyClientSecret(hashedSecret, plainSecret string) bool {
	if len(hashedSecret) == 0 || len(plainSecret) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(plainSecret)) == nil
}

func scopeSubset(allowedScopes, requestedScopes string) bool {
	allowed := scopeSetOf(allowedScopes)
	for _, sc := range strings.Fields(requestedScopes) {
		if !allowed[sc] {
			return false
		}
	}
	return true
}

func scopeSetOf(scopes string) map[string]bool {
	set := make(map[string]bool)
	for _, sc := range strings.Fields(scopes) {
		set[sc] = true
	}
	return set
}
