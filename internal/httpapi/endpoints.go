package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"inference_gateway/internal/providers"
)

const (
	EndpointChatCompletions = "/api/v1/chat/completions"
	EndpointCompletions     = "/api/v1/completions"
	EndpointEmbeddings      = "/api/v1/embeddings"
	EndpointModels          = "/api/v1/models"
	EndpointTest            = "/api/v1/test"

	embeddingDimensions   = 1536
	defaultEmbeddingModel = "text-embedding-ada-002"
	mockCompletionTokens  = 20
	modelsCreatedAt       = 1677610602
	modelsOwner           = "nextgenai"
)

// upstreamError marks a failed call to the inference server that did not
// come back with a status code.
type upstreamError struct{ err error }

func (e *upstreamError) Error() string { return e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func (h *ProxyHandler) chatCompletions() endpoint {
	return endpoint{
		Path:          EndpointChatCompletions,
		ReadBody:      true,
		ValidateModel: true,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			resp, err := h.upstream.Chat(ctx, providers.ChatRequest{Model: req.Model, Payload: req.Payload})
			if err != nil {
				if errors.Is(err, providers.ErrUpstreamStatus) || errors.Is(err, providers.ErrUpstreamTimeout) {
					return nil, err
				}
				return nil, &upstreamError{err: err}
			}
			return &workResult{Raw: resp.Body, Tokens: resp.TotalTokens}, nil
		},
	}
}

// completionChoice differs from openai.CompletionChoice only in sending
// "logprobs": null.
type completionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	LogProbs     any    `json:"logprobs"`
	FinishReason string `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   openai.Usage       `json:"usage"`
}

// completions answers with a mock text completion echoing the prompt.
func (h *ProxyHandler) completions() endpoint {
	return endpoint{
		Path:     EndpointCompletions,
		ReadBody: true,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			requested, _ := req.Payload["model"].(string)
			prompt := stringField(req.Payload, "prompt")
			shown := prompt
			if shown == "" {
				shown = "No prompt provided"
			}

			promptTokens := estimateTokens(utf8.RuneCountInString(prompt))
			now := time.Now()
			resp := completionResponse{
				ID:      fmt.Sprintf("cmpl-%d", now.UnixMilli()),
				Object:  "text_completion",
				Created: now.Unix(),
				Model:   h.defaults.ResolveModel(requested),
				Choices: []completionChoice{{
					Text:         "\n\nThis is a mock completion response for the prompt: \"" + shown + "\"",
					Index:        0,
					FinishReason: "stop",
				}},
				Usage: openai.Usage{
					PromptTokens:     promptTokens,
					CompletionTokens: mockCompletionTokens,
					TotalTokens:      promptTokens + mockCompletionTokens,
				},
			}
			return &workResult{Body: resp, Tokens: resp.Usage.TotalTokens}, nil
		},
	}
}

// embeddings answers with one random 1536-dimension vector.
func (h *ProxyHandler) embeddings() endpoint {
	return endpoint{
		Path:     EndpointEmbeddings,
		ReadBody: true,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			model, _ := req.Payload["model"].(string)
			if model == "" {
				model = defaultEmbeddingModel
			}

			tokens := estimateTokens(inputLength(req.Payload["input"]))
			resp := openai.EmbeddingResponse{
				Object: "list",
				Data: []openai.Embedding{{
					Object:    "embedding",
					Embedding: randomVector(embeddingDimensions),
					Index:     0,
				}},
				Model: openai.EmbeddingModel(model),
				Usage: openai.Usage{PromptTokens: tokens, TotalTokens: tokens},
			}
			return &workResult{Body: resp, Tokens: tokens}, nil
		},
	}
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (h *ProxyHandler) listModels() endpoint {
	return endpoint{
		Path: EndpointModels,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			list := modelList{Object: "list", Data: []modelEntry{}}
			for _, m := range h.models.All() {
				list.Data = append(list.Data, modelEntry{
					ID:      m.ID,
					Object:  "model",
					Created: modelsCreatedAt,
					OwnedBy: modelsOwner,
				})
			}
			return &workResult{Body: list}, nil
		},
	}
}

// testCompletion is a fixed mock used to check a key end to end.
func (h *ProxyHandler) testCompletion() endpoint {
	return endpoint{
		Path:     EndpointTest,
		ReadBody: true,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			message := stringField(req.Payload, "message")
			if message == "" {
				message = "Hello!"
			}
			now := time.Now()
			resp := openai.ChatCompletionResponse{
				ID:      fmt.Sprintf("test-%d", now.UnixMilli()),
				Object:  "test.completion",
				Created: now.Unix(),
				Model:   "test-model",
				Choices: []openai.ChatCompletionChoice{{
					Index: 0,
					Message: openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: "Test response for: " + message,
					},
					FinishReason: openai.FinishReasonStop,
				}},
				Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 15, TotalTokens: 25},
			}
			return &workResult{Body: resp, Tokens: resp.Usage.TotalTokens}, nil
		},
	}
}

func (h *ProxyHandler) testStatus() endpoint {
	return endpoint{
		Path: EndpointTest,
		Work: func(ctx context.Context, req *proxyRequest) (*workResult, error) {
			return &workResult{Body: map[string]any{
				"message":   "Test endpoint working",
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
				"apiKey":    req.Key.Name,
			}}, nil
		},
	}
}

func stringField(payload map[string]any, name string) string {
	switch v := payload[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// inputLength is the string length of a single input, or the item count of a batch.
func inputLength(input any) int {
	switch v := input.(type) {
	case string:
		return utf8.RuneCountInString(v)
	case []any:
		return len(v)
	default:
		return 0
	}
}

// estimateTokens applies the four-characters-per-token heuristic, rounding up.
func estimateTokens(length int) int {
	return (length + 3) / 4
}

func randomVector(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rand.Float32()*2 - 1
	}
	return v
}
