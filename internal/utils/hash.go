package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// CacheKey returns the hex SHA-256 of a secret so plaintext API keys never
// appear as cache or Redis keys.
func CacheKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
