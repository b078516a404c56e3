package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mevra-dev/mevra/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-embedding-001"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts batches all texts in one request via EmbeddingBatch.
// Context-window rejections come back wrapped in core.ErrContextLength so the
// embedding stage can shrink its input and retry.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		if isTokenLimitErr(err) {
			return nil, fmt.Errorf("gemini embed: %w", core.ErrContextLength)
		}
		return nil, &core.ExternalServiceError{Service: "gemini embed", Err: err}
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if dim > 0 && len(e.Values) != dim {
			return nil, fmt.Errorf("gemini embed: got dimension %d, want %d", len(e.Values), dim)
		}
		out = append(out, e.Values)
	}
	return out, nil
}

// isTokenLimitErr matches the API's context-window rejection, which arrives
// as a 400 INVALID_ARGUMENT mentioning the token limit.
func isTokenLimitErr(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "token") &&
		(strings.Contains(msg, "exceed") || strings.Contains(msg, "too long") || strings.Contains(msg, "limit"))
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
