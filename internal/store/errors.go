package store

import "errors"

var (
	// ErrNotFound wraps GORM's not found error for consistency
	ErrNotFound = errors.New("record not found")

	// ErrEmailConflict is returned when an email already belongs to another identity
	ErrEmailConflict = errors.New("email already exists")

	// ErrUsernameConflict is returned when a username already exists
	ErrUsernameConflict = errors.New("username already exists")

	// ErrGrantConsumed is returned by ConsumeGrant when the grant was
	// already consumed by a concurrent request (0 rows updated).
	ErrGrantConsumed = errors.New("grant already consumed")
)
