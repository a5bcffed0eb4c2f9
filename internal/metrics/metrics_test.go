package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/api/keys/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/keys/{id}", "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/keys/8d7c", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/keys/{id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestObserveProxyCall(t *testing.T) {
	endpoint := "/api/v1/test-observe"

	ObserveProxyCall(endpoint, "success", 15*time.Millisecond, 25)
	ObserveProxyCall(endpoint, "error", time.Millisecond, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(ProxyCallsTotal.WithLabelValues(endpoint, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ProxyCallsTotal.WithLabelValues(endpoint, "error")))
	assert.Equal(t, 25.0, testutil.ToFloat64(ProxyTokensTotal.WithLabelValues(endpoint)))
}

func TestHandlerServesMetrics(t *testing.T) {
	LedgerWriteFailuresTotal.WithLabelValues("/api/v1/handler-check").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gateway_ledger_write_failures_total")
}
