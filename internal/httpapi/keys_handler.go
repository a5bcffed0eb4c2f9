package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

// maxKeyAttempts bounds retries when a generated key collides with an existing one
const maxKeyAttempts = 3

// KeyRepository is the subset of the API key repository the dashboard uses
type KeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	ListByUser(ctx context.Context, userID string) ([]models.APIKey, error)
	UpdateForUser(ctx context.Context, id uuid.UUID, userID string, upd models.APIKeyUpdate) (*models.APIKey, error)
	DeleteForUser(ctx context.Context, id uuid.UUID, userID string) error
}

// KeysHandler manages the session user's API keys
type KeysHandler struct {
	keys KeyRepository
	log  *utils.Logger
}

// NewKeysHandler creates a new API keys handler
func NewKeysHandler(keys KeyRepository) *KeysHandler {
	return &KeysHandler{
		keys: keys,
		log:  utils.NewLogger("keys"),
	}
}

// CreateKeyRequest is the body of POST /api/keys
type CreateKeyRequest struct {
	Name      string `json:"name"`
	RateLimit *int   `json:"rateLimit,omitempty"`
}

// UpdateKeyRequest is the body of PATCH /api/keys/{id}
type UpdateKeyRequest struct {
	Name      *string `json:"name,omitempty"`
	IsActive  *bool   `json:"isActive,omitempty"`
	RateLimit *int    `json:"rateLimit,omitempty"`
}

// CreatedKey is returned once, with the plaintext key, on creation
type CreatedKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	RateLimit int       `json:"rateLimit"`
}

// List handles GET /api/keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetSessionUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	keys, err := h.keys.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.log.Error("Failed to list API keys", "error", err, "user_id", user.ID)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"apiKeys": keys})
}

// Create handles POST /api/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetSessionUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "API key name required")
		return
	}

	rateLimit := models.DefaultRateLimit
	if req.RateLimit != nil && *req.RateLimit > 0 {
		rateLimit = *req.RateLimit
	}

	var key *models.APIKey
	var err error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key = &models.APIKey{
			UserID:    user.ID,
			Key:       auth.GenerateAPIKey(),
			Name:      req.Name,
			IsActive:  true,
			RateLimit: rateLimit,
		}
		if err = h.keys.Create(r.Context(), key); !errors.Is(err, storage.ErrDuplicateAPIKey) {
			break
		}
	}
	if err != nil {
		h.log.Error("Failed to create API key", "error", err, "user_id", user.ID)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.log.Info("API key created", "user_id", user.ID, "api_key_id", key.ID)
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": "API key created successfully",
		"apiKey": CreatedKey{
			ID:        key.ID,
			Name:      key.Name,
			Key:       key.Key,
			RateLimit: key.RateLimit,
		},
	})
}

// Update handles PATCH /api/keys/{id}
func (h *KeysHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetSessionUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "API key not found")
		return
	}

	var req UpdateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	upd := models.APIKeyUpdate{IsActive: req.IsActive, RateLimit: req.RateLimit}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "API key name required")
			return
		}
		upd.Name = utils.StringPtr(name)
	}
	if upd.RateLimit != nil && *upd.RateLimit <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Rate limit must be positive")
		return
	}

	key, err := h.keys.UpdateForUser(r.Context(), id, user.ID, upd)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "API key not found")
			return
		}
		h.log.Error("Failed to update API key", "error", err, "api_key_id", id)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": "API key updated successfully",
		"apiKey":  key,
	})
}

// Delete handles DELETE /api/keys/{id}. The key's usage rows go with it.
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetSessionUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "API key not found")
		return
	}

	if err := h.keys.DeleteForUser(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "API key not found")
			return
		}
		h.log.Error("Failed to delete API key", "error", err, "api_key_id", id)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.log.Info("API key deleted", "user_id", user.ID, "api_key_id", id)
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "API key deleted successfully"})
}
