package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/config"
	"inference_gateway/internal/models"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/registry"
	"inference_gateway/internal/storage"
)

const (
	testKey     = "nai_0123456789abcdef0123456789abcdef"
	testUserID  = "user_test"
	otherUserID = "user_other"
)

var testSecret = []byte("0123456789abcdef-session")

// memLedger is an in-memory usage store. failSuccess rejects success
// records only, failAll rejects every write.
type memLedger struct {
	mu          sync.Mutex
	records     []models.UsageRecord
	lastUsed    map[uuid.UUID]time.Time
	failSuccess error
	failAll     error
}

func newMemLedger() *memLedger {
	return &memLedger{lastUsed: map[uuid.UUID]time.Time{}}
}

func (l *memLedger) RecordUsage(_ context.Context, rec *models.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll != nil {
		return l.failAll
	}
	if rec.Status == models.UsageSuccess && l.failSuccess != nil {
		return l.failSuccess
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	l.records = append(l.records, *rec)
	if !rec.IsError() {
		l.lastUsed[rec.APIKeyID] = rec.CreatedAt
	}
	return nil
}

func (l *memLedger) List(_ context.Context, f storage.UsageFilter) ([]models.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range f.KeyIDs {
		wanted[id] = true
	}
	out := []models.UsageRecord{}
	for _, rec := range l.records {
		if !wanted[rec.APIKeyID] {
			continue
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) snapshot() []models.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.UsageRecord(nil), l.records...)
}

// memKeys is an in-memory KeyRepository. dupes makes the next n creates
// fail with a duplicate key error.
type memKeys struct {
	mu    sync.Mutex
	keys  []models.APIKey
	dupes int
}

func (m *memKeys) Create(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dupes > 0 {
		m.dupes--
		return storage.ErrDuplicateAPIKey
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	m.keys = append(m.keys, *key)
	return nil
}

func (m *memKeys) ListByUser(_ context.Context, userID string) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.APIKey{}
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) UpdateForUser(_ context.Context, id uuid.UUID, userID string, upd models.APIKeyUpdate) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.keys {
		k := &m.keys[i]
		if k.ID != id || k.UserID != userID {
			continue
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
		cp := *k
		return &cp, nil
	}
	return nil, storage.ErrAPIKeyNotFound
}

func (m *memKeys) DeleteForUser(_ context.Context, id uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.keys {
		if k.ID == id && k.UserID == userID {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return nil
		}
	}
	return storage.ErrAPIKeyNotFound
}

type fakeUsers struct{}

func (fakeUsers) EnsureUser(_ context.Context, id, email string, name *string) (*models.User, error) {
	return &models.User{ID: id, Email: email, Name: name, CreatedAt: time.Now().UTC()}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

// testEnv is a full router in front of in-memory stores and an httptest upstream.
type testEnv struct {
	handler       http.Handler
	ledger        *memLedger
	keys          *memKeys
	store         *auth.InMemoryAPIKeyStore
	keyID         uuid.UUID
	upstreamCalls atomic.Int32
	upstreamBody  atomic.Value // map[string]any of the last upstream request
}

type envOption func(*envConfig)

type envConfig struct {
	upstream    http.HandlerFunc
	timeout     time.Duration
	upstreamCfg config.UpstreamConfig
	trustProxy  bool
}

func withUpstream(h http.HandlerFunc) envOption {
	return func(c *envConfig) { c.upstream = h }
}

func withTimeout(d time.Duration) envOption {
	return func(c *envConfig) { c.timeout = d }
}

func withTrustedProxy() envOption {
	return func(c *envConfig) { c.trustProxy = true }
}

func withDefaultModel(model string) envOption {
	return func(c *envConfig) { c.upstreamCfg.DefaultModel = model }
}

const upstreamChatBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"ai/gpt-oss-20b",` +
	`"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],` +
	`"usage":{"prompt_tokens":12,"completion_tokens":30,"total_tokens":42}}`

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		ledger: newMemLedger(),
		keys:   &memKeys{},
		store:  auth.NewInMemoryAPIKeyStore(),
		keyID:  uuid.New(),
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.upstreamCalls.Add(1)
		if r.URL.Path == "/chat/completions" {
			var body map[string]any
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			env.upstreamBody.Store(body)
		}
		if cfg.upstream != nil {
			cfg.upstream(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/models") {
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"ai/gpt-oss-20b","object":"model"}]}`))
			return
		}
		_, _ = w.Write([]byte(upstreamChatBody))
	}))
	t.Cleanup(upstream.Close)

	client := providers.NewInferenceClient(providers.InferenceClientConfig{
		BaseURL: upstream.URL,
		APIKey:  "not-needed",
		Timeout: cfg.timeout,
	})
	t.Cleanup(func() { _ = client.Close() })

	env.store.AddKey(testKey, &auth.APIKeyRecord{
		ID:        env.keyID,
		UserID:    testUserID,
		Name:      "Test Key",
		RateLimit: models.DefaultRateLimit,
		IsActive:  true,
	})

	env.handler = NewRouter(&Dependencies{
		Health:        fakeHealth{},
		APIKeys:       env.store,
		Keys:          env.keys,
		Usage:         env.ledger,
		Users:         fakeUsers{},
		Upstream:      client,
		Models:        registry.New(),
		UpstreamCfg:   cfg.upstreamCfg,
		SessionSecret: testSecret,

		TrustProxyHeaders: cfg.trustProxy,
	})
	return env
}

// do sends a request through the router. A non-empty bearer sets the
// Authorization header.
func (e *testEnv) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.5:41234"
	req.Header.Set("User-Agent", "gateway-test/1.0")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateSessionJWT(testSecret, userID, userID+"@example.com", "", time.Hour)
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}
