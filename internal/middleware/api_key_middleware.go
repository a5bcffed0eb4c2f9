package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// APIKeyRecordKey is the context key for storing the authenticated API key record
	APIKeyRecordKey ContextKey = "apiKeyRecord"
)

// APIKeyMiddleware validates the bearer key on inference routes and adds the
// key record to the request context. Rejected requests never reach the
// handler, so they leave no trace in the usage ledger.
func APIKeyMiddleware(store auth.APIKeyStore) func(http.Handler) http.Handler {
	log := utils.NewLogger("api-key-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := ParseBearer(r.Header.Get("Authorization"))
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "API key required")
				return
			}

			ctx := r.Context()
			keyRecord, err := store.Lookup(ctx, apiKey)
			if err != nil {
				if errors.Is(err, auth.ErrKeyNotFound) {
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				log.Error("API key lookup failed", "error", err, "path", r.URL.Path)
				utils.RespondWithErrorMessage(w, http.StatusInternalServerError, "Internal server error", err.Error())
				return
			}

			ctx = context.WithValue(ctx, APIKeyRecordKey, keyRecord)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseBearer extracts the token from an Authorization header. The scheme is
// matched case-insensitively and the token must be non-empty.
func ParseBearer(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// GetAPIKeyRecord retrieves the API key record from the request context
func GetAPIKeyRecord(ctx context.Context) (*auth.APIKeyRecord, bool) {
	record, ok := ctx.Value(APIKeyRecordKey).(*auth.APIKeyRecord)
	return record, ok
}
