package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

func TestAPIKeyRepository_GetActiveByKeyCachesRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	id := uuid.New()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows(apiKeyRowColumns).
		AddRow(id.String(), "user-1", "nai_abc", "Production", true, 100, created, nil)

	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1 AND is_active = \$2`).
		WithArgs("nai_abc", true).
		WillReturnRows(rows)

	key, err := repo.GetActiveByKey(ctx, "nai_abc")
	require.NoError(t, err)
	assert.Equal(t, id, key.ID)
	assert.Equal(t, "user-1", key.UserID)
	assert.Nil(t, key.LastUsedAt)

	// Second lookup is served from cache; no further query is expected.
	again, err := repo.GetActiveByKey(ctx, "nai_abc")
	require.NoError(t, err)
	assert.Equal(t, key.ID, again.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_GetActiveByKeyNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)

	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs("nai_missing", true).
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns))

	_, err := repo.GetActiveByKey(context.Background(), "nai_missing")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_GetActiveByKeyUsesSharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	shared := NewRedisKeyCache(client, "test:apikey:", time.Minute)

	// Replica A populates the shared cache.
	dbA, mockA := newMockDB(t)
	repoA := NewSharedAPIKeyRepository(dbA, shared)
	id := uuid.New()
	mockA.ExpectQuery(`SELECT .* FROM api_keys`).
		WithArgs("nai_shared", true).
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_shared", "Shared", true, 100, time.Now().UTC(), nil))
	_, err := repoA.GetActiveByKey(context.Background(), "nai_shared")
	require.NoError(t, err)

	// Replica B never touches its database.
	dbB, mockB := newMockDB(t)
	repoB := NewSharedAPIKeyRepository(dbB, shared)
	key, err := repoB.GetActiveByKey(context.Background(), "nai_shared")
	require.NoError(t, err)
	assert.Equal(t, id, key.ID)

	require.NoError(t, mockA.ExpectationsWereMet())
	require.NoError(t, mockB.ExpectationsWereMet())
}

func TestAPIKeyRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)

	mock.ExpectExec(`INSERT INTO api_keys`).
		WithArgs(sqlmock.AnyArg(), "user-1", "nai_new", "CI", true, models.DefaultRateLimit, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := &models.APIKey{UserID: "user-1", Key: "nai_new", Name: "CI", IsActive: true}
	require.NoError(t, repo.Create(context.Background(), key))

	assert.NotEqual(t, uuid.Nil, key.ID)
	assert.False(t, key.CreatedAt.IsZero())
	assert.Equal(t, models.DefaultRateLimit, key.RateLimit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)

	mock.ExpectExec(`INSERT INTO api_keys`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "api_keys_key_key"`))

	err := repo.Create(context.Background(), &models.APIKey{UserID: "user-1", Key: "nai_dup", Name: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateAPIKey)
}

func TestAPIKeyRepository_ListByUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(uuid.NewString(), "user-1", "nai_b", "second", true, 100, now, now).
			AddRow(uuid.NewString(), "user-1", "nai_a", "first", false, 50, now.Add(-time.Hour), nil))

	keys, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "second", keys[0].Name)
	require.NotNil(t, keys[0].LastUsedAt)
	assert.False(t, keys[1].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_UpdateForUserInvalidatesCache(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	id := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs("nai_upd", true).
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_upd", "k", true, 100, created, nil))
	_, err := repo.GetActiveByKey(ctx, "nai_upd")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, "user-1").
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_upd", "k", true, 100, created, nil))
	mock.ExpectExec(`UPDATE api_keys SET name = \$1, is_active = \$2, rate_limit = \$3 WHERE id = \$4`).
		WithArgs("k", false, 100, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateForUser(ctx, id, "user-1", models.APIKeyUpdate{IsActive: utils.BoolPtr(false)})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	// The cached active row is gone, so the next lookup hits the database.
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs("nai_upd", true).
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns))
	_, err = repo.GetActiveByKey(ctx, "nai_upd")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_EmptyUpdateWritesNothing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()
	id := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs("nai_same", true).
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_same", "k", true, 100, created, nil))
	_, err := repo.GetActiveByKey(ctx, "nai_same")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, "user-1").
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_same", "k", true, 100, created, nil))
	mock.ExpectCommit()

	got, err := repo.UpdateForUser(ctx, id, "user-1", models.APIKeyUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "k", got.Name)
	assert.True(t, got.IsActive)

	// Still cached: no further query is expected.
	_, err = repo.GetActiveByKey(ctx, "nai_same")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_UpdateForUserWrongOwner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, "intruder").
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns))
	mock.ExpectRollback()

	name := "stolen"
	_, err := repo.UpdateForUser(context.Background(), id, "intruder", models.APIKeyUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepository_DeleteForUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE id = \$1 AND user_id = \$2`).
		WithArgs(id, "user-1").
		WillReturnRows(sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_del", "k", true, 100, time.Now().UTC(), nil))
	mock.ExpectExec(`DELETE FROM usage_records WHERE api_key_id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM api_keys WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteForUser(context.Background(), id, "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// epochBump matches any argument and simulates a key update committing
// while the lookup query is in flight.
type epochBump struct{ db *DB }

func (e epochBump) Match(driver.Value) bool {
	e.db.keyCacheEpoch.Add(1)
	return true
}

func TestAPIKeyRepository_LookupRacingUpdateDoesNotFillCache(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(db)
	id := uuid.New()
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(apiKeyRowColumns).
			AddRow(id.String(), "user-1", "nai_race", "k", true, 100, time.Now().UTC(), nil)
	}

	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs(epochBump{db}, true).
		WillReturnRows(row())
	_, err := repo.GetActiveByKey(context.Background(), "nai_race")
	require.NoError(t, err)

	// Nothing was cached, so the next lookup reads the database again.
	mock.ExpectQuery(`SELECT .* FROM api_keys WHERE "key" = \$1`).
		WithArgs("nai_race", true).
		WillReturnRows(row())
	_, err = repo.GetActiveByKey(context.Background(), "nai_race")
	require.NoError(t, err)
	assert.Equal(t, 1, db.GetAPIKeyCache().Len())
	require.NoError(t, mock.ExpectationsWereMet())
}
