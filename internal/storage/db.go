package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"inference_gateway/internal/models"
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn   *sqlx.DB
	driver string

	// Cache for API key lookups on the proxy hot path
	apiKeyCache *LRUCache[*models.APIKey]
	// bumped on every key update or delete; lookups that straddle a bump
	// do not fill the cache
	keyCacheEpoch atomic.Uint64
}

// DBConfig holds database configuration
type DBConfig struct {
	Driver string // "postgres" or "sqlite3"
	DSN    string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Driver: "postgres",
		DSN:    "postgres://postgres@localhost:5432/gateway?sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		APIKeyCacheSize: 1000,
		APIKeyCacheTTL:  30 * time.Second,
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	conn, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// SQLite allows a single writer; serialize through one connection.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewDBFromConn(conn, cfg.Driver, NewLRUCache[*models.APIKey](cfg.APIKeyCacheSize, cfg.APIKeyCacheTTL)), nil
}

// NewDBFromConn wraps an existing connection. Tests use it with sqlmock.
func NewDBFromConn(conn *sqlx.DB, driver string, apiKeyCache *LRUCache[*models.APIKey]) *DB {
	if apiKeyCache == nil {
		apiKeyCache = NewLRUCache[*models.APIKey](DefaultDBConfig().APIKeyCacheSize, DefaultDBConfig().APIKeyCacheTTL)
	}
	return &DB{
		conn:        conn,
		driver:      driver,
		apiKeyCache: apiKeyCache,
	}
}

// sqliteDSN turns on foreign key enforcement so cascading deletes work.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.apiKeyCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// DBStats reports pool and cache statistics
type DBStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`

	APIKeyCacheStats CacheStats `json:"api_key_cache"`
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		APIKeyCacheStats: db.apiKeyCache.GetStats(),
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Driver returns the configured driver name
func (db *DB) Driver() string {
	return db.driver
}

// GetAPIKeyCache returns the API key cache
func (db *DB) GetAPIKeyCache() *LRUCache[*models.APIKey] {
	return db.apiKeyCache
}

// CleanupExpiredCacheEntries removes expired entries from the key cache.
// Called periodically by the server.
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.apiKeyCache.CleanupExpired()
}

// withTx runs fn inside a transaction. The transaction is rolled back on any
// error or panic and committed otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation checks if an error is a UNIQUE constraint violation
// on either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
