package auth

import "errors"

var (
	// ErrKeyNotFound is returned when a bearer key is unknown or inactive
	ErrKeyNotFound = errors.New("api key not found")

	// ErrInvalidToken is returned for session tokens that fail verification
	ErrInvalidToken = errors.New("invalid session token")
)
