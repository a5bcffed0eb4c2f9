package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"inference_gateway/internal/models"
)

const usageColumns = `id, api_key_id, endpoint, method, status, status_code, response_time_ms, tokens, error_type, user_agent, ip_address, created_at`

// UsageRepository is the append-only usage ledger. Rows are never updated or deleted
// except through the owning key's deletion.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// UsageFilter narrows ledger reads. A zero Since or Until leaves that bound open.
type UsageFilter struct {
	KeyIDs []uuid.UUID
	Since  time.Time
	Until  time.Time
}

// RecordUsage appends rec to the ledger. For successful calls the key's
// last_used_at is stamped in the same transaction.
func (r *UsageRepository) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ResponseTimeMS < 0 {
		rec.ResponseTimeMS = 0
	}

	insert := `
		INSERT INTO usage_records (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.APIKeyID, rec.Endpoint, rec.Method, string(rec.Status), rec.StatusCode,
			rec.ResponseTimeMS, rec.Tokens, rec.ErrorType, rec.UserAgent, rec.IPAddress, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}

		if rec.IsError() {
			return nil
		}

		res, err := tx.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, rec.CreatedAt, rec.APIKeyID)
		if err != nil {
			return fmt.Errorf("failed to update last used: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrAPIKeyNotFound
		}
		return nil
	})
}

// List returns ledger rows matching f, newest first. An empty key set matches nothing.
func (r *UsageRepository) List(ctx context.Context, f UsageFilter) ([]models.UsageRecord, error) {
	records := []models.UsageRecord{}
	if len(f.KeyIDs) == 0 {
		return records, nil
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE api_key_id IN (?)`
	args := []interface{}{f.KeyIDs}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.Until.UTC())
	}
	query += ` ORDER BY created_at DESC`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build usage query: %w", err)
	}
	query = r.db.conn.Rebind(query)

	if err := r.db.conn.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

// CountForKey returns the number of ledger rows for a single key.
func (r *UsageRepository) CountForKey(ctx context.Context, keyID uuid.UUID) (int, error) {
	var n int
	if err := r.db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_records WHERE api_key_id = $1`, keyID); err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}
	return n, nil
}

// UsageWithKey is a ledger row joined with its key's owner and display name
type UsageWithKey struct {
	models.UsageRecord
	APIKeyName string `db:"api_key_name"`
	UserID     string `db:"user_id"`
}

// ListWithKeys returns every ledger row created in [since, until), oldest
// first, for archiving.
func (r *UsageRepository) ListWithKeys(ctx context.Context, since, until time.Time) ([]UsageWithKey, error) {
	rows := []UsageWithKey{}
	query := `
		SELECT u.id, u.api_key_id, u.endpoint, u.method, u.status, u.status_code, u.response_time_ms,
		       u.tokens, u.error_type, u.user_agent, u.ip_address, u.created_at,
		       k.name AS api_key_name, k.user_id AS user_id
		FROM usage_records u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE u.created_at >= $1 AND u.created_at < $2
		ORDER BY u.created_at ASC
	`
	if err := r.db.conn.SelectContext(ctx, &rows, query, since.UTC(), until.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list usage for export: %w", err)
	}
	return rows, nil
}
