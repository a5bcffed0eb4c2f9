package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// APIKeyPrefix starts every issued bearer key
	APIKeyPrefix = "nai_"

	// DefaultRateLimit is stored on new keys when none is given. It is
	// informational only and never enforced by the proxy.
	DefaultRateLimit = 100
)

// APIKey represents a bearer key issued to a user.
type APIKey struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"userId"`
	Key        string     `db:"key" json:"key"`
	Name       string     `db:"name" json:"name"`
	IsActive   bool       `db:"is_active" json:"isActive"`
	RateLimit  int        `db:"rate_limit" json:"rateLimit"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt"`
}

// CanProxy reports whether the key may be used on the inference API.
func (k *APIKey) CanProxy() bool {
	return k != nil && k.IsActive
}

// APIKeyUpdate holds the mutable fields of a key. Nil fields are left untouched.
type APIKeyUpdate struct {
	Name      *string
	IsActive  *bool
	RateLimit *int
}

// IsEmpty reports whether the update changes nothing.
func (u APIKeyUpdate) IsEmpty() bool {
	return u.Name == nil && u.IsActive == nil && u.RateLimit == nil
}
