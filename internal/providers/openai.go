package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// InferenceClientConfig describes the upstream server
type InferenceClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // zero disables the client-side timeout
}

// InferenceClient talks to an OpenAI-compatible server such as a local
// llama.cpp engine.
type InferenceClient struct {
	apiKey  string
	client  *http.Client
	models  *openai.Client
	baseURL string
}

// NewInferenceClient creates a new upstream client
func NewInferenceClient(cfg InferenceClientConfig) *InferenceClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	oaCfg := openai.DefaultConfig(cfg.APIKey)
	oaCfg.BaseURL = baseURL
	oaCfg.HTTPClient = client

	return &InferenceClient{
		apiKey:  cfg.APIKey,
		client:  client,
		models:  openai.NewClientWithConfig(oaCfg),
		baseURL: baseURL,
	}
}

// Chat forwards the caller's body to /chat/completions. A non-2xx answer
// is returned together with a *StatusError.
func (c *InferenceClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	payload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		payload[k] = v
	}
	if m, ok := payload["model"].(string); !ok || m == "" {
		payload["model"] = req.Model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &ChatResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    time.Since(start),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	usage := extractUsageFromResponse(respBody)
	out.PromptTokens = usage.PromptTokens
	out.CompletionTokens = usage.CompletionTokens
	out.TotalTokens = usage.TotalTokens
	return out, nil
}

// ListModels queries the upstream /models endpoint
func (c *InferenceClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.models.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing upstream models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Close releases idle connections
func (c *InferenceClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// extractUsageFromResponse reads the OpenAI usage block. Missing or
// malformed usage counts as zero.
func extractUsageFromResponse(body []byte) openai.Usage {
	var response struct {
		Usage openai.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return openai.Usage{}
	}
	return response.Usage
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
