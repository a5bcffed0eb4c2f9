package httpapi

import (
	"context"
	"net/http"
	"time"

	"inference_gateway/internal/analytics"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
	"inference_gateway/internal/utils"
)

// UsageReader reads ledger rows for a set of keys
type UsageReader interface {
	List(ctx context.Context, f storage.UsageFilter) ([]models.UsageRecord, error)
}

// KeyLister lists the keys a user owns
type KeyLister interface {
	ListByUser(ctx context.Context, userID string) ([]models.APIKey, error)
}

// AnalyticsHandler serves the dashboard readers. Every call recomputes from
// the caller's raw ledger rows.
type AnalyticsHandler struct {
	keys  KeyLister
	usage UsageReader
	now   func() time.Time
	log   *utils.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(keys KeyLister, usage UsageReader) *AnalyticsHandler {
	return &AnalyticsHandler{
		keys:  keys,
		usage: usage,
		now:   time.Now,
		log:   utils.NewLogger("analytics"),
	}
}

// load resolves the session user, their keys and their ledger rows created
// at or after since. A zero since reads the whole ledger. On failure the
// response has been written and ok is false.
func (h *AnalyticsHandler) load(w http.ResponseWriter, r *http.Request, report string, since time.Time) (keys []analytics.KeyInfo, records []models.UsageRecord, ok bool) {
	user, ok := middleware.GetSessionUser(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, nil, false
	}

	owned, err := h.keys.ListByUser(r.Context(), user.ID)
	if err == nil {
		keys = analytics.KeyInfoFromModels(owned)
		records, err = h.usage.List(r.Context(), storage.UsageFilter{
			KeyIDs: analytics.KeyIDs(keys),
			Since:  since,
		})
	}
	if err != nil {
		h.log.Error("Failed to load usage", "error", err, "report", report, "user_id", user.ID)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return nil, nil, false
	}
	return keys, records, true
}

// Analytics handles GET /api/analytics?range=24h|7d|30d|90d
func (h *AnalyticsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	rng := analytics.ParseAnalyticsRange(r.URL.Query().Get("range"))
	keys, records, ok := h.load(w, r, "analytics", now.Add(-rng.Duration()))
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, analytics.BuildAnalytics(keys, records, rng, now))
}

// Usage handles GET /api/usage?range=24h|7d|30d
func (h *AnalyticsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	rng := analytics.ParseUsageRange(r.URL.Query().Get("range"))
	_, records, ok := h.load(w, r, "usage", now.Add(-rng.Duration()))
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, analytics.BuildUsage(records, rng, now))
}

// Dashboard handles GET /api/dashboard/stats
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	keys, records, ok := h.load(w, r, "dashboard", time.Time{})
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, analytics.BuildDashboard(keys, records, now))
}

// Stats handles GET /api/stats
func (h *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	keys, records, ok := h.load(w, r, "stats", time.Time{})
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, analytics.BuildStats(keys, records, now))
}
