package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/config"
	"inference_gateway/internal/logging"
	"inference_gateway/internal/metrics"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/registry"
)

// UsageStore is the usage ledger as both the proxy and the dashboard see it
type UsageStore interface {
	UsageLedger
	UsageReader
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Health        HealthChecker
	CacheHealth   HealthChecker
	APIKeys       auth.APIKeyStore
	Keys          KeyRepository
	Usage         UsageStore
	Users         middleware.UserEnsurer
	Upstream      providers.Client
	Models        *registry.Registry
	UpstreamCfg   config.UpstreamConfig
	SessionSecret []byte

	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Only set it behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// RequestLogger is optional; nil disables the access log
	RequestLogger *logging.RequestLogger
}

// NewRouter wires every route of the gateway.
func NewRouter(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	if deps.RequestLogger != nil {
		r.Use(deps.RequestLogger.Middleware)
	}

	r.Get("/health", HealthHandler(deps.Health, deps.CacheHealth, deps.Upstream))
	r.Handle("/metrics", metrics.Handler())

	proxy := NewProxyHandler(deps.Upstream, deps.Usage, deps.Models, deps.UpstreamCfg)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyMiddleware(deps.APIKeys))

		r.Post("/chat/completions", proxy.serve(proxy.chatCompletions()))
		r.Post("/completions", proxy.serve(proxy.completions()))
		r.Post("/embeddings", proxy.serve(proxy.embeddings()))
		r.Get("/models", proxy.serve(proxy.listModels()))
		r.Post("/test", proxy.serve(proxy.testCompletion()))
		r.Get("/test", proxy.serve(proxy.testStatus()))
	})

	keys := NewKeysHandler(deps.Keys)
	reports := NewAnalyticsHandler(deps.Keys, deps.Usage)
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(deps.SessionSecret, deps.Users))

		r.Get("/api/keys", keys.List)
		r.Post("/api/keys", keys.Create)
		r.Patch("/api/keys/{id}", keys.Update)
		r.Delete("/api/keys/{id}", keys.Delete)

		r.Get("/api/analytics", reports.Analytics)
		r.Get("/api/usage", reports.Usage)
		r.Get("/api/dashboard/stats", reports.Dashboard)
		r.Get("/api/stats", reports.Stats)
	})

	return r
}
