package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

const apiKeyColumns = `id, user_id, "key", name, is_active, rate_limit, created_at, last_used_at`

// APIKeyRepository handles API key database operations with caching
type APIKeyRepository struct {
	db    *DB
	cache KeyCache
}

// NewAPIKeyRepository creates a repository that caches lookups in the DB's
// in-process LRU. Only safe with a single gateway process.
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db:    db,
		cache: NewLocalKeyCache(db.GetAPIKeyCache()),
	}
}

// NewSharedAPIKeyRepository caches lookups only in shared, which every
// replica reads and invalidates. The in-process LRU is bypassed so a key
// disabled on one replica stops working on all of them.
func NewSharedAPIKeyRepository(db *DB, shared KeyCache) *APIKeyRepository {
	return &APIKeyRepository{
		db:    db,
		cache: shared,
	}
}

// GetActiveByKey resolves a bearer key to its row. Unknown and inactive keys
// both return ErrAPIKeyNotFound.
func (r *APIKeyRepository) GetActiveByKey(ctx context.Context, key string) (*models.APIKey, error) {
	hash := utils.CacheKey(key)
	if cached, found := r.cache.Get(ctx, hash); found && cached.Key == key && cached.IsActive {
		return cached, nil
	}

	epoch := r.db.keyCacheEpoch.Load()
	var k models.APIKey
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE "key" = $1 AND is_active = $2`
	if err := r.db.conn.GetContext(ctx, &k, query, key, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	// Skip the fill when an update or delete committed while we were reading.
	if r.db.keyCacheEpoch.Load() == epoch {
		r.cache.Set(ctx, hash, &k)
	}
	return &k, nil
}

// invalidate drops a key from the cache after a committed write.
func (r *APIKeyRepository) invalidate(ctx context.Context, plaintext string) {
	r.db.keyCacheEpoch.Add(1)
	r.cache.Delete(ctx, utils.CacheKey(plaintext))
}

// Create inserts a new key, filling in id, timestamps and defaults.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if key.RateLimit <= 0 {
		key.RateLimit = models.DefaultRateLimit
	}

	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.conn.ExecContext(ctx, query,
		key.ID, key.UserID, key.Key, key.Name, key.IsActive, key.RateLimit, key.CreatedAt, key.LastUsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAPIKey
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// ListByUser returns every key owned by a user, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	keys := []models.APIKey{}
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	if err := r.db.conn.SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// GetForUser returns a key only if it belongs to userID.
func (r *APIKeyRepository) GetForUser(ctx context.Context, id uuid.UUID, userID string) (*models.APIKey, error) {
	return getKeyForUser(ctx, r.db.conn, id, userID)
}

func getKeyForUser(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, userID string) (*models.APIKey, error) {
	var k models.APIKey
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND user_id = $2`
	if err := sqlx.GetContext(ctx, q, &k, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return &k, nil
}

// UpdateForUser applies upd to a key owned by userID and returns the new row.
func (r *APIKeyRepository) UpdateForUser(ctx context.Context, id uuid.UUID, userID string, upd models.APIKeyUpdate) (*models.APIKey, error) {
	var updated *models.APIKey
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		k, err := getKeyForUser(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		updated = k
		if upd.IsEmpty() {
			return nil
		}
		if upd.Name != nil {
			k.Name = *upd.Name
		}
		if upd.IsActive != nil {
			k.IsActive = *upd.IsActive
		}
		if upd.RateLimit != nil {
			k.RateLimit = *upd.RateLimit
		}

		query := `UPDATE api_keys SET name = $1, is_active = $2, rate_limit = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, k.Name, k.IsActive, k.RateLimit, k.ID); err != nil {
			return fmt.Errorf("failed to update API key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !upd.IsEmpty() {
		r.invalidate(ctx, updated.Key)
	}
	return updated, nil
}

// DeleteForUser removes a key owned by userID together with its usage rows.
func (r *APIKeyRepository) DeleteForUser(ctx context.Context, id uuid.UUID, userID string) error {
	var plaintext string
	err := r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		k, err := getKeyForUser(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		plaintext = k.Key

		// Explicit so the cascade holds even where FK enforcement is off.
		if _, err := tx.ExecContext(ctx, `DELETE FROM usage_records WHERE api_key_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete usage records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete API key: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.invalidate(ctx, plaintext)
	return nil
}
