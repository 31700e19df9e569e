package session

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, revoked, or expired
	// sessions. Expired sessions are never distinguishable to callers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRefreshExhausted indicates both the delegated and the local
	// refresh path failed; the session has been revoked and the user
	// must authenticate again.
	ErrRefreshExhausted = errors.New("session refresh exhausted, re-authentication required")

	// ErrInvalidTokenPair indicates the token pair presented at session
	// creation failed the ingestion check.
	ErrInvalidTokenPair = errors.New("invalid token pair")
)
