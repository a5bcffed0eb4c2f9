package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when an API key is not found, is not
	// active on the proxy path, or is not owned by the caller
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrDuplicateAPIKey is returned when a generated key collides with an existing one
	ErrDuplicateAPIKey = errors.New("API key already exists")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")
)
