package authsrv

import "errors"

// OAuth protocol errors. The sentinel messages double as the wire
// error codes (RFC 6749 §5.2), so handlers can map them directly.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrAccessDenied            = errors.New("access_denied")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidClient           = errors.New("invalid_client")

	// Device flow polling states (RFC 8628 §3.5)
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrSlowDown             = errors.New("slow_down")
	ErrExpiredToken         = errors.New("expired_token")

	ErrInvalidRedirectURI  = errors.New("invalid redirect_uri")
	ErrPKCERequired        = errors.New("pkce required for public clients")
	ErrInvalidCodeVerifier = errors.New("invalid code_verifier")
	ErrCodeAlreadyUsed     = errors.New("authorization code already used")
	ErrGrantNotFound       = errors.New("grant not found")
)
