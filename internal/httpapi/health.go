package httpapi

import (
	"context"
	"net/http"
	"time"

	"inference_gateway/internal/providers"
	"inference_gateway/internal/utils"
)

const upstreamProbeTimeout = 2 * time.Second

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"redis,omitempty"`
	Upstream string `json:"upstream,omitempty"`
}

// HealthHandler reports database reachability. The shared cache and
// upstream probes are informational and never fail the check; cache is
// nil when Redis is disabled.
func HealthHandler(db, cache HealthChecker, upstream providers.Client) http.HandlerFunc {
	log := utils.NewLogger("health")

	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Database: "ok"}
		code := http.StatusOK

		if err := db.Health(r.Context()); err != nil {
			log.Warn("Database health check failed", "error", err)
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}

		if cache != nil {
			if err := cache.Health(r.Context()); err != nil {
				log.Warn("Redis health check failed", "error", err)
				resp.Cache = "unreachable"
			} else {
				resp.Cache = "ok"
			}
		}

		if upstream != nil {
			ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
			defer cancel()
			if _, err := upstream.ListModels(ctx); err != nil {
				log.Debug("Upstream probe failed", "error", err)
				resp.Upstream = "unreachable"
			} else {
				resp.Upstream = "ok"
			}
		}

		utils.RespondWithJSON(w, code, resp)
	}
}
