package core

import "context"

// EmbeddingProvider turns text into fixed-dimension vectors.
//
// Implementations must wrap context-window rejections with ErrContextLength
// so the embedding stage can distinguish them from other failures.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error)
}

// JSONSchema is a provider-neutral description of a structured response
// shape. LLM implementations translate it into their native schema type.
type JSONSchema struct {
	Type       string // "object", "array" or "string"
	Properties map[string]*JSONSchema
	Items      *JSONSchema
	Required   []string
}

type LLMProvider interface {
	// Generate returns free text for a system instruction + user payload.
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)

	// GenerateJSON constrains the response to schema and returns the raw
	// JSON bytes. Callers unmarshal and validate against their own struct;
	// structured fields are never parsed out of free text.
	GenerateJSON(ctx context.Context, systemPrompt string, userPrompt string, schema *JSONSchema) ([]byte, error)
}
