package models

// ModelKind separates chat models from embedding models in the registry
type ModelKind string

const (
	ModelKindChat      ModelKind = "chat"
	ModelKindEmbedding ModelKind = "embedding"
)

// ModelPricing is the per-token price. Always zero for the self-hosted backend.
type ModelPricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelDescriptor describes a model the gateway accepts. Descriptors are
// compiled in and never persisted.
type ModelDescriptor struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Provider      string       `json:"provider"`
	Description   string       `json:"description"`
	ContextLength int          `json:"contextLength,omitempty"`
	Pricing       ModelPricing `json:"pricing"`
	Kind          ModelKind    `json:"kind"`
}
