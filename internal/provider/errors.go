package provider

import "errors"

var (
	// ErrUnavailable indicates the provider could not be reached or
	// answered with a server error.
	ErrUnavailable = errors.New("delegated provider unavailable")

	// ErrTokenInvalid indicates the provider rejected the token.
	ErrTokenInvalid = errors.New("delegated provider rejected token")

	// ErrTokenExpired indicates the token is no longer active due to expiry.
	ErrTokenExpired = errors.New("delegated token expired")

	// ErrLoginFailed indicates the provider rejected the credentials.
	ErrLoginFailed = errors.New("delegated provider rejected credentials")

	// ErrUserNotFound indicates the admin API found no such user.
	ErrUserNotFound = errors.New("delegated user not found")
)
