// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts every request by method, route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"method", "route"},
	)

	// ProxyCallsTotal counts usage records written by the inference API.
	// Calls whose record could not be written show up only in
	// LedgerWriteFailuresTotal.
	ProxyCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_calls_total",
			Help: "Inference API calls recorded in the usage ledger, by endpoint and outcome.",
		},
		[]string{"endpoint", "status"},
	)

	ProxyCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_call_duration_seconds",
			Help:    "Latency of the work step of inference API calls, by endpoint.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)

	ProxyTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_tokens_total",
			Help: "Tokens recorded in the usage ledger, by endpoint.",
		},
		[]string{"endpoint"},
	)

	// LedgerWriteFailuresTotal counts usage records that could not be stored.
	LedgerWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ledger_write_failures_total",
			Help: "Usage ledger writes that failed, by endpoint.",
		},
		[]string{"endpoint"},
	)

	APIKeyCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_api_key_cache_entries",
			Help: "Entries currently held in the in-process API key cache.",
		},
	)
)

// ObserveProxyCall records one ledgered inference call.
func ObserveProxyCall(endpoint, status string, elapsed time.Duration, tokens int) {
	ProxyCallsTotal.WithLabelValues(endpoint, status).Inc()
	ProxyCallDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if tokens > 0 {
		ProxyTokensTotal.WithLabelValues(endpoint).Add(float64(tokens))
	}
}

// Middleware records request count and latency using the matched chi route
// pattern so raw ids never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "<no-route>"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
