package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"inference_gateway/internal/auth"
)

const demoKey = "nai_0123456789abcdef0123456789abcdef"

func newDemoStore() (*auth.InMemoryAPIKeyStore, uuid.UUID) {
	store := auth.NewInMemoryAPIKeyStore()
	id := uuid.New()
	store.AddKey(demoKey, &auth.APIKeyRecord{ID: id, UserID: "user-1", Name: "Demo", RateLimit: 100, IsActive: true})
	return store, id
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body["error"]
}

func TestAPIKeyMiddleware_Success(t *testing.T) {
	store, id := newDemoStore()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record, ok := GetAPIKeyRecord(r.Context())
		if !ok {
			t.Error("API key record not found in context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if record.ID != id {
			t.Errorf("Unexpected API key ID: %s", record.ID)
		}
		w.WriteHeader(http.StatusOK)
	})

	handler := APIKeyMiddleware(store)(nextHandler)

	for _, header := range []string{"Bearer " + demoKey, "bearer " + demoKey} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%q: expected status 200, got %d", header, w.Code)
		}
	}
}

func TestAPIKeyMiddleware_Rejections(t *testing.T) {
	store, _ := newDemoStore()
	store.AddKey("nai_disabled", &auth.APIKeyRecord{ID: uuid.New(), IsActive: false})

	tests := []struct {
		name       string
		authHeader string
		wantError  string
	}{
		{name: "no header", wantError: "API key required"},
		{name: "bearer with no token", authHeader: "Bearer ", wantError: "API key required"},
		{name: "malformed bearer", authHeader: "Bearer" + demoKey, wantError: "API key required"},
		{name: "different scheme", authHeader: "Basic abc123", wantError: "API key required"},
		{name: "x-api-key is not accepted", authHeader: "", wantError: "API key required"},
		{name: "unknown key", authHeader: "Bearer nai_unknown", wantError: "Invalid API key"},
		{name: "inactive key", authHeader: "Bearer nai_disabled", wantError: "Invalid API key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("Next handler should not be called")
			})
			handler := APIKeyMiddleware(store)(nextHandler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			req.Header.Set("X-API-Key", demoKey)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
			if got := decodeError(t, w); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}
}

type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (*auth.APIKeyRecord, error) {
	return nil, errors.New("database is down")
}

func TestAPIKeyMiddleware_StoreFailure(t *testing.T) {
	handler := APIKeyMiddleware(failingStore{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+demoKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestGetAPIKeyRecord(t *testing.T) {
	t.Run("record exists in context", func(t *testing.T) {
		id := uuid.New()
		ctx := context.WithValue(context.Background(), APIKeyRecordKey, &auth.APIKeyRecord{ID: id, Name: "Test Key"})

		retrieved, ok := GetAPIKeyRecord(ctx)
		if !ok {
			t.Fatal("Expected to find API key record in context")
		}
		if retrieved.ID != id {
			t.Errorf("Expected ID %s, got %s", id, retrieved.ID)
		}
	})

	t.Run("record not in context", func(t *testing.T) {
		if _, ok := GetAPIKeyRecord(context.Background()); ok {
			t.Error("Expected not to find API key record in empty context")
		}
	})

	t.Run("wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), APIKeyRecordKey, "not-a-record")
		if _, ok := GetAPIKeyRecord(ctx); ok {
			t.Error("Expected type assertion to fail for wrong type")
		}
	})
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "BEARER  abc ", token: "abc", ok: true},
		{header: "Bearer", ok: false},
		{header: "Token abc", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		token, ok := ParseBearer(tt.header)
		if ok != tt.ok || token != tt.token {
			t.Errorf("ParseBearer(%q) = (%q, %v), want (%q, %v)", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
