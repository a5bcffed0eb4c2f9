package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := NewDBFromConn(sqlx.NewDb(conn, "postgres"), "postgres", NewLRUCache[*models.APIKey](10, time.Minute))
	return db, mock
}

var apiKeyRowColumns = []string{"id", "user_id", "key", "name", "is_active", "rate_limit", "created_at", "last_used_at"}
