package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// APIKeyRecord is the view of an API key needed at request time.
type APIKeyRecord struct {
	ID        uuid.UUID
	UserID    string
	Name      string
	RateLimit int
	IsActive  bool
}

// APIKeyStore resolves bearer keys into active key records. Implementations
// return ErrKeyNotFound for unknown and for inactive keys alike.
type APIKeyStore interface {
	Lookup(ctx context.Context, plaintextKey string) (*APIKeyRecord, error)
}

// RecordFromModel converts a stored key into its request-time view
func RecordFromModel(k *models.APIKey) *APIKeyRecord {
	return &APIKeyRecord{
		ID:        k.ID,
		UserID:    k.UserID,
		Name:      k.Name,
		RateLimit: k.RateLimit,
		IsActive:  k.IsActive,
	}
}

// GenerateAPIKey returns a fresh bearer key: the prefix followed by 32
// lowercase hex characters taken from a random UUID.
func GenerateAPIKey() string {
	return models.APIKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsWellFormedKey checks the nai_<32 hex> shape without touching storage.
func IsWellFormedKey(key string) bool {
	rest, ok := strings.CutPrefix(key, models.APIKeyPrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// InMemoryAPIKeyStore is a map-backed store for tests and local runs.
type InMemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyRecord
}

func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{keys: make(map[string]*APIKeyRecord)}
}

// AddKey registers a plaintext key
func (s *InMemoryAPIKeyStore) AddKey(plaintextKey string, rec *APIKeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[plaintextKey] = rec
}

// SetActive flips the active flag of a registered key
func (s *InMemoryAPIKeyStore) SetActive(plaintextKey string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.keys[plaintextKey]; ok {
		rec.IsActive = active
	}
}

func (s *InMemoryAPIKeyStore) Lookup(ctx context.Context, plaintextKey string) (*APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[plaintextKey]
	if !ok || !rec.IsActive {
		return nil, ErrKeyNotFound
	}
	cp := *rec
	return &cp, nil
}
