package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamStatus marks a non-2xx answer from the inference server
	ErrUpstreamStatus = errors.New("upstream returned an error status")

	// ErrUpstreamTimeout marks a call that exceeded the client timeout
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// ChatRequest is a pass-through chat completion call.
type ChatRequest struct {
	Model   string         // resolved model id, used when the payload names none
	Payload map[string]any // caller's request body as generic JSON
}

// ChatResponse is the upstream answer, returned verbatim.
type ChatResponse struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration

	// Usage information extracted from response
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client forwards requests to an OpenAI-compatible inference server.
type Client interface {
	// Chat sends a chat completion request
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ListModels returns the model ids the upstream advertises
	ListModels(ctx context.Context) ([]string, error)
}

// StatusError carries a non-2xx upstream response
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamStatus
}
