package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageStatus is the outcome of a proxied call
type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageError   UsageStatus = "error"
)

// Error types recorded on failed calls
const (
	ErrorTypeInvalidRequest  = "invalid_request"
	ErrorTypeUpstream        = "upstream_error"
	ErrorTypeUpstreamTimeout = "upstream_timeout"
	ErrorTypeLedger          = "ledger_error"
	ErrorTypeInternal        = "internal_error"
)

// UsageRecord is one append-only ledger entry per proxy attempt that got
// past key validation.
type UsageRecord struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	APIKeyID       uuid.UUID   `db:"api_key_id" json:"apiKeyId"`
	Endpoint       string      `db:"endpoint" json:"endpoint"`
	Method         string      `db:"method" json:"method"`
	Status         UsageStatus `db:"status" json:"status"`
	StatusCode     int         `db:"status_code" json:"statusCode"`
	ResponseTimeMS int64       `db:"response_time_ms" json:"responseTime"`
	Tokens         int         `db:"tokens" json:"tokens"`
	ErrorType      *string     `db:"error_type" json:"errorType,omitempty"`
	UserAgent      *string     `db:"user_agent" json:"userAgent,omitempty"`
	IPAddress      *string     `db:"ip_address" json:"ipAddress,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"timestamp"`
}

// IsError reports whether the call failed
func (u *UsageRecord) IsError() bool {
	return u.Status == UsageError
}
