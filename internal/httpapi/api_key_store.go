package httpapi

import (
	"context"
	"errors"
	"fmt"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// ActiveKeyFinder resolves a bearer value to an active key row
type ActiveKeyFinder interface {
	GetActiveByKey(ctx context.Context, key string) (*models.APIKey, error)
}

// DatabaseAPIKeyStore implements auth.APIKeyStore on top of the key repository
type DatabaseAPIKeyStore struct {
	repo ActiveKeyFinder
}

func NewDatabaseAPIKeyStore(repo ActiveKeyFinder) *DatabaseAPIKeyStore {
	return &DatabaseAPIKeyStore{
		repo: repo,
	}
}

// Lookup finds an active API key by its exact bearer value. Values that
// cannot be a gateway key are rejected without a database round-trip.
func (s *DatabaseAPIKeyStore) Lookup(ctx context.Context, plaintextKey string) (*auth.APIKeyRecord, error) {
	if !auth.IsWellFormedKey(plaintextKey) {
		return nil, auth.ErrKeyNotFound
	}
	apiKey, err := s.repo.GetActiveByKey(ctx, plaintextKey)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to lookup API key: %w", err)
	}
	if !apiKey.CanProxy() {
		return nil, auth.ErrKeyNotFound
	}

	return auth.RecordFromModel(apiKey), nil
}
