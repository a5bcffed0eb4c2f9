package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/config"
	"inference_gateway/internal/metrics"
	"inference_gateway/internal/middleware"
	"inference_gateway/internal/models"
	"inference_gateway/internal/providers"
	"inference_gateway/internal/registry"
	"inference_gateway/internal/utils"
)

const maxRequestBody = 10 << 20

var (
	errInvalidRequest = errors.New("invalid request body")
	errLedgerWrite    = errors.New("failed to record usage")
)

// UsageLedger appends usage records. Implementations stamp the key's
// last-used time in the same transaction as a successful record.
type UsageLedger interface {
	RecordUsage(ctx context.Context, rec *models.UsageRecord) error
}

// proxyRequest is the input to an endpoint's work step
type proxyRequest struct {
	Key     *auth.APIKeyRecord
	Payload map[string]any // nil for GET endpoints
	Model   string         // resolved model id, set for endpoints that validate it
}

// workResult is what an endpoint produced. Raw wins over Body when set.
type workResult struct {
	Body   any
	Raw    []byte
	Tokens int
}

// endpoint describes one inference endpoint. Every endpoint shares the
// validate, time, record and respond envelope in ProxyHandler.serve.
type endpoint struct {
	Path          string
	ReadBody      bool
	ValidateModel bool
	Work          func(ctx context.Context, req *proxyRequest) (*workResult, error)
}

// ProxyHandler serves the bearer-key inference API.
type ProxyHandler struct {
	upstream providers.Client
	ledger   UsageLedger
	models   *registry.Registry
	defaults config.UpstreamConfig
	log      *utils.Logger
}

// NewProxyHandler creates the inference API handler
func NewProxyHandler(upstream providers.Client, ledger UsageLedger, reg *registry.Registry, defaults config.UpstreamConfig) *ProxyHandler {
	return &ProxyHandler{
		upstream: upstream,
		ledger:   ledger,
		models:   reg,
		defaults: defaults,
		log:      utils.NewLogger("proxy"),
	}
}

// serve wraps an endpoint in the shared envelope. The key has already been
// matched by APIKeyMiddleware, so from here on every outcome except a model
// rejection leaves exactly one usage record.
func (h *ProxyHandler) serve(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entered := time.Now()
		ctx := r.Context()

		key, ok := middleware.GetAPIKeyRecord(ctx)
		if !ok {
			utils.RespondWithError(w, http.StatusUnauthorized, "API key required")
			return
		}

		req := &proxyRequest{Key: key}
		if ep.ReadBody {
			payload, err := decodePayload(r)
			if err != nil {
				h.fail(w, r, ep, key, entered, err)
				return
			}
			req.Payload = payload
		}

		if ep.ValidateModel {
			requested, _ := req.Payload["model"].(string)
			req.Model = h.defaults.ResolveModel(requested)
			if err := h.models.Validate(req.Model); err != nil {
				var unsupported *registry.UnsupportedModelError
				available := h.models.IDs()
				if errors.As(err, &unsupported) {
					available = unsupported.Available
				}
				utils.RespondWithJSON(w, http.StatusBadRequest, map[string]any{
					"error":           "Invalid model",
					"message":         err.Error(),
					"availableModels": available,
				})
				return
			}
		}

		start := time.Now()
		res, err := ep.Work(ctx, req)
		if err != nil {
			h.fail(w, r, ep, key, start, err)
			return
		}
		elapsed := time.Since(start)

		rec := newUsageRecord(r, ep.Path, key, models.UsageSuccess, http.StatusOK, elapsed)
		rec.Tokens = res.Tokens
		if err := h.ledger.RecordUsage(ctx, rec); err != nil {
			metrics.LedgerWriteFailuresTotal.WithLabelValues(ep.Path).Inc()
			h.fail(w, r, ep, key, start, fmt.Errorf("%w: %v", errLedgerWrite, err))
			return
		}
		metrics.ObserveProxyCall(ep.Path, string(models.UsageSuccess), elapsed, res.Tokens)

		if res.Raw != nil {
			utils.RespondWithRaw(w, http.StatusOK, res.Raw)
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, res.Body)
	}
}

// fail writes the error record best-effort and answers 500 with the error text.
func (h *ProxyHandler) fail(w http.ResponseWriter, r *http.Request, ep endpoint, key *auth.APIKeyRecord, start time.Time, cause error) {
	elapsed := time.Since(start)
	errType := classifyError(cause)

	log := h.log.With("endpoint", ep.Path, "api_key_id", key.ID, "request_id", middleware.GetRequestID(r.Context()))
	log.Error("Proxy call failed", "error", cause, "error_type", errType)

	rec := newUsageRecord(r, ep.Path, key, models.UsageError, http.StatusInternalServerError, elapsed)
	rec.ErrorType = utils.StringPtr(errType)
	// The request context may already be cancelled; the error record should
	// still have a chance to land.
	if err := h.ledger.RecordUsage(context.WithoutCancel(r.Context()), rec); err != nil {
		metrics.LedgerWriteFailuresTotal.WithLabelValues(ep.Path).Inc()
		log.Error("Failed to record error usage", "error", err)
	} else {
		metrics.ObserveProxyCall(ep.Path, string(models.UsageError), elapsed, 0)
	}

	utils.RespondWithErrorMessage(w, http.StatusInternalServerError, "Internal server error", cause.Error())
}

func newUsageRecord(r *http.Request, path string, key *auth.APIKeyRecord, status models.UsageStatus, code int, elapsed time.Duration) *models.UsageRecord {
	rec := &models.UsageRecord{
		APIKeyID:       key.ID,
		Endpoint:       path,
		Method:         r.Method,
		Status:         status,
		StatusCode:     code,
		ResponseTimeMS: elapsed.Milliseconds(),
		UserAgent:      utils.OptionalString(r.UserAgent()),
		IPAddress:      utils.OptionalString(utils.ClientIP(r)),
		CreatedAt:      time.Now().UTC(),
	}
	return rec
}

// classifyError maps a failure to the error_type stored on the ledger row
func classifyError(err error) string {
	switch {
	case errors.Is(err, errInvalidRequest):
		return models.ErrorTypeInvalidRequest
	case errors.Is(err, errLedgerWrite):
		return models.ErrorTypeLedger
	case errors.Is(err, providers.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorTypeUpstreamTimeout
	case errors.Is(err, providers.ErrUpstreamStatus), errors.As(err, new(*upstreamError)):
		return models.ErrorTypeUpstream
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.ErrorTypeUpstreamTimeout
		}
		return models.ErrorTypeInternal
	}
}

// decodePayload reads the body as a JSON object. An empty body is an error.
func decodePayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", errInvalidRequest)
	}
	return payload, nil
}
