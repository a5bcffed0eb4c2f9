package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inference_gateway/internal/models"
)

// UserRepository manages key owners
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser creates the user on first sight and returns the stored row.
// Existing rows are left untouched.
func (r *UserRepository) EnsureUser(ctx context.Context, id, email string, name *string) (*models.User, error) {
	insert := `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.conn.ExecContext(ctx, insert, id, email, name, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID fetches a user by subject id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.db.conn.GetContext(ctx, &u, `SELECT id, email, name, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
