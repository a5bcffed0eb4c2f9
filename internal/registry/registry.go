// Package registry holds the static catalogue of models the gateway accepts.
package registry

import (
	"fmt"
	"strings"

	"inference_gateway/internal/models"
)

const providerName = "NextGenAI"

var chatModels = []models.ModelDescriptor{
	{
		ID:            "ai/gpt-oss-20b",
		Name:          "GPT OSS 20B",
		Description:   "Flagship 20B parameter open source GPT model with advanced reasoning capabilities",
		ContextLength: 32768,
	},
	{
		ID:            "ai/gpt-oss-7b",
		Name:          "GPT OSS 7B",
		Description:   "Efficient 7B parameter model optimized for speed and performance",
		ContextLength: 16384,
	},
	{
		ID:            "ai/gpt-oss-3b",
		Name:          "GPT OSS 3B",
		Description:   "Lightweight 3B parameter model for fast inference and low latency",
		ContextLength: 8192,
	},
	{
		ID:            "ai/gpt-oss-instruct",
		Name:          "GPT OSS Instruct",
		Description:   "Instruction-tuned model specialized for following complex instructions",
		ContextLength: 16384,
	},
	{
		ID:            "ai/gpt-oss-code",
		Name:          "GPT OSS Code",
		Description:   "Code-specialized model trained on programming languages and documentation",
		ContextLength: 24576,
	},
}

var embeddingModels = []models.ModelDescriptor{
	{
		ID:          "ai/embed-large",
		Name:        "NextGenAI Embed Large",
		Description: "High-dimensional embeddings for complex semantic understanding",
	},
	{
		ID:          "ai/embed-small",
		Name:        "NextGenAI Embed Small",
		Description: "Efficient embeddings optimized for speed and resource usage",
	},
}

// Registry answers membership questions against the compiled-in catalogue.
// The zero value is not usable; call New.
type Registry struct {
	all  []models.ModelDescriptor
	byID map[string]models.ModelDescriptor
}

// New builds the registry from the built-in chat and embedding catalogues.
func New() *Registry {
	r := &Registry{byID: make(map[string]models.ModelDescriptor)}
	for _, m := range chatModels {
		r.add(m, models.ModelKindChat)
	}
	for _, m := range embeddingModels {
		r.add(m, models.ModelKindEmbedding)
	}
	return r
}

func (r *Registry) add(m models.ModelDescriptor, kind models.ModelKind) {
	m.Provider = providerName
	m.Kind = kind
	m.Pricing = models.ModelPricing{}
	r.all = append(r.all, m)
	r.byID[m.ID] = m
}

// IsValid reports whether id is a chat or embedding model in the catalogue.
func (r *Registry) IsValid(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns every descriptor, chat models first.
func (r *Registry) All() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, len(r.all))
	copy(out, r.all)
	return out
}

// IDs returns every valid model id in catalogue order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.all))
	for _, m := range r.all {
		ids = append(ids, m.ID)
	}
	return ids
}

// UnsupportedModelError is returned by Validate for ids outside the catalogue.
type UnsupportedModelError struct {
	Model     string
	Available []string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("Model '%s' is not supported. Available models: %s",
		e.Model, strings.Join(e.Available, ", "))
}

// Validate returns an *UnsupportedModelError when id is not in the catalogue.
func (r *Registry) Validate(id string) error {
	if r.IsValid(id) {
		return nil
	}
	return &UnsupportedModelError{Model: id, Available: r.IDs()}
}
