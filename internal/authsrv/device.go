package authsrv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/learnhub-io/identity/internal/models"
	"github.com/learnhub-io/identity/internal/util"

	"github.com/google/uuid"
)

// DeviceAuthorization is the device authorization endpoint response
// (RFC 8628 §3.2).
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// BeginDeviceAuthorization starts the device flow: mints a device code
// (returned to the device, stored only as a hash) and a short
// user-facing code for the verification page.
func (s *Server) BeginDeviceAuthorization(
	ctx context.Context,
	clientID, scope string,
) (*DeviceAuthorization, error) {
	client, err := s.store.GetClient(clientID)
	if err != nil || !client.IsActive {
		return nil, ErrInvalidClient
	}
	if !client.HasGrantType("urn:ietf:params:oauth:grant-type:device_code") {
		return nil, ErrUnauthorizedClient
	}
	if scope != "" && !scopeSubset(client.Scopes, scope) {
		return nil, ErrInvalidScope
	}
	if scope == "" {
		scope = client.Scopes
	}

	codeBytes, err := util.CryptoRandomBytes(20)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device code: %w", err)
	}
	deviceCode := hex.EncodeToString(codeBytes)
	userCode := generateUserCode()

	payload, err := encodePayload(DeviceCodePayload{
		Scopes:   scope,
		UserCode: userCode,
		Interval: s.config.PollingInterval,
	})
	if err != nil {
		return nil, err
	}

	grant := &models.Grant{
		ID:           util.SHA256Hex(deviceCode),
		Kind:         models.GrantKindDeviceCode,
		SecondaryKey: userCode,
		ClientID:     clientID,
		GrantID:      uuid.New().String(),
		Payload:      payload,
		ExpiresAt:    time.Now().Add(s.config.DeviceCodeExpiration),
	}
	if err := s.storage.Save(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save device code: %w", err)
	}

	base := strings.TrimRight(s.config.BaseURL, "/")
	return &DeviceAuthorization{
		DeviceCode:              deviceCode,
		UserCode:                FormatUserCode(userCode),
		VerificationURI:         base + "/device",
		VerificationURIComplete: base + "/device?user_code=" + userCode,
		ExpiresIn:               int(s.config.DeviceCodeExpiration.Seconds()),
		Interval:                s.config.PollingInterval,
	}, nil
}

// LookupUserCode resolves a user-entered code to its pending grant, so
// the verification page can show which client is asking.
func (s *Server) LookupUserCode(ctx context.Context, userCode string) (*models.Grant, *DeviceCodePayload, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(userCode, "-", ""))

	grant, err := s.storage.FindBySecondaryKey(ctx, models.GrantKindDeviceCode, normalized)
	if err != nil {
		return nil, nil, ErrGrantNotFound
	}
	if grant.IsExpired() {
		_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
		return nil, nil, ErrExpiredToken
	}

	var payload DeviceCodePayload
	if err := decodePayload(grant.Payload, &payload); err != nil {
		return nil, nil, err
	}
	return grant, &payload, nil
}

// AuthorizeDevice binds the authenticated user to a pending device
// grant. Called from the verification page after consent.
func (s *Server) AuthorizeDevice(ctx context.Context, userCode string, identityID int64) error {
	return s.decideDevice(ctx, userCode, identityID, true)
}

// DenyDevice records the user's refusal; the polling device receives
// access_denied.
func (s *Server) DenyDevice(ctx context.Context, userCode string) error {
	return s.decideDevice(ctx, userCode, 0, false)
}

func (s *Server) decideDevice(ctx context.Context, userCode string, identityID int64, approve bool) error {
	grant, payload, err := s.LookupUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if payload.Authorized || payload.Denied {
		return ErrGrantNotFound
	}

	now := time.Now()
	if approve {
		payload.Authorized = true
		payload.AuthorizedAt = &now
		grant.IdentityID = identityID
	} else {
		payload.Denied = true
	}

	encoded, err := encodePayload(payload)
	if err != nil {
		return err
	}
	grant.Payload = encoded
	return s.storage.Upsert(ctx, grant)
}

// ExchangeDeviceCode is the device's polling call on the token
// endpoint. It enforces the polling interval and consumes the device
// code exactly once when the user has approved.
func (s *Server) ExchangeDeviceCode(
	ctx context.Context,
	deviceCode, clientID string,
) (*TokenResponse, error) {
	if !validHexCode(deviceCode, 40) {
		return nil, ErrInvalidGrant
	}

	grant, err := s.storage.Find(ctx, models.GrantKindDeviceCode, util.SHA256Hex(deviceCode))
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if grant.IsExpired() {
		_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
		return nil, ErrExpiredToken
	}
	if grant.ClientID != clientID {
		return nil, ErrAccessDenied
	}

	var payload DeviceCodePayload
	if err := decodePayload(grant.Payload, &payload); err != nil {
		return nil, err
	}

	if payload.Denied {
		_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
		return nil, ErrAccessDenied
	}

	// Enforce the advertised polling interval (RFC 8628 §3.5).
	now := time.Now()
	if payload.LastPolledAt != nil &&
		now.Sub(*payload.LastPolledAt) < time.Duration(payload.Interval)*time.Second {
		return nil, ErrSlowDown
	}
	payload.LastPolledAt = &now
	if encoded, err := encodePayload(payload); err == nil {
		grant.Payload = encoded
		_ = s.storage.Upsert(ctx, grant)
	}

	if !payload.Authorized {
		return nil, ErrAuthorizationPending
	}

	if err := s.storage.MarkConsumed(ctx, grant.Kind, grant.ID); err != nil {
		return nil, ErrInvalidGrant
	}
	s.metrics.RecordGrantConsumed(grant.Kind, "success")

	resp, err := s.issueTokens(ctx, grant.IdentityID, clientID, grant.GrantID, payload.Scopes, "")
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued("device_code")

	_ = s.storage.Destroy(ctx, grant.Kind, grant.ID)
	return resp, nil
}

// generateUserCode creates a short user-entered code. The charset
// avoids characters that read ambiguously: 0, O, 1, I, L.
func generateUserCode() string {
	const charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	code := make([]byte, 8)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		code[i] = charset[n.Int64()]
	}
	return string(code)
}

// FormatUserCode formats a user code for display ("ABCDEFGH" -> "ABCD-EFGH").
func FormatUserCode(code string) string {
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}

func validHexCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, x := range []byte(code) {
		if x < '0' || (x > '9' && x < 'a') || x > 'f' {
			return false
		}
	}
	return true
}
