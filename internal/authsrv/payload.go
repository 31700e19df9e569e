package authsrv

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind-specific payloads stored as JSON in the shared grant table.
// The storage layer never interprets these; decoding happens here.

// AuthorizationCodePayload carries the parameters bound to an issued
// authorization code until it is exchanged.
type AuthorizationCodePayload struct {
	RedirectURI         string `json:"redirect_uri"`
	Scopes              string `json:"scopes"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
}

// DeviceCodePayload tracks a device authorization grant through the
// pending -> authorized -> exchanged lifecycle.
type DeviceCodePayload struct {
	Scopes       string     `json:"scopes"`
	UserCode     string     `json:"user_code"`
	Interval     int        `json:"interval"`
	Authorized   bool       `json:"authorized"`
	Denied       bool       `json:"denied,omitempty"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
}

// TokenPayload is the stored record of an issued access or refresh
// token.
type TokenPayload struct {
	Scopes string `json:"scopes"`
	JTI    string `json:"jti,omitempty"`
}

func encodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode grant payload: %w", err)
	}
	return string(raw), nil
}

func decodePayload(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode grant payload: %w", err)
	}
	return nil
}
