package verifier

import "errors"

// Error taxonomy for authentication outcomes. ErrExpiredCredential is
// recoverable via refresh; the others force re-authentication.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrExpiredCredential      = errors.New("credential expired")
	ErrUnresolvableIdentity   = errors.New("credential subject cannot be resolved")
	ErrProviderUnavailable    = errors.New("delegated provider unavailable")
)
