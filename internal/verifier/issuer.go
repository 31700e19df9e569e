package verifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is an access/refresh token pair as handed to the session
// store at login and on the local refresh path.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueLocalPair signs a local HS256 access/refresh token pair for an
// identity. Used for password logins and as the refresh fallback when
// the delegated provider is unavailable.
func (v *Verifier) IssueLocalPair(
	identityID int64,
	email, username string,
	roles, permissions []string,
) (*TokenPair, error) {
	now := time.Now()
	accessExpiresAt := now.Add(v.config.JWTExpiration)
	refreshExpiresAt := now.Add(v.config.RefreshTokenExpiration)

	accessToken, err := v.signLocal(identityID, email, username, roles, permissions, "access", now, accessExpiresAt)
	if err != nil {
		return nil, err
	}
	refreshToken, err := v.signLocal(identityID, email, username, roles, permissions, "refresh", now, refreshExpiresAt)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// RefreshLocalPair validates a locally-issued refresh token and mints a
// new pair for the same subject and claim set.
func (v *Verifier) RefreshLocalPair(refreshToken string) (*TokenPair, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredential
	}
	if tokenType, _ := mapClaims["type"].(string); tokenType != "refresh" {
		return nil, ErrInvalidCredential
	}

	claims := NormalizeClaims(mapClaims)
	identityID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrUnresolvableIdentity
	}
	return v.IssueLocalPair(identityID, claims.Email, claims.Username, claims.Roles, claims.Permissions)
}

func (v *Verifier) signLocal(
	identityID int64,
	email, username string,
	roles, permissions []string,
	tokenType string,
	issuedAt, expiresAt time.Time,
) (string, error) {
	claims := jwt.MapClaims{
		"sub":                strconv.FormatInt(identityID, 10),
		"email":              email,
		"preferred_username": username,
		"roles":              roles,
		"permissions":        permissions,
		"type":               tokenType,
		"iss":                v.config.BaseURL,
		"iat":                issuedAt.Unix(),
		"exp":                expiresAt.Unix(),
		"jti":                uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
