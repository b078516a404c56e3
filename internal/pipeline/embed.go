package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

const (
	// embedBudget is the starting character budget for embedding input.
	embedBudget = 32000
	// embedShrink is the budget multiplier applied after a context-window
	// rejection.
	embedShrink = 0.8
	// embedFloor is the smallest budget worth trying; below it the
	// rejection is clearly not about input size.
	embedFloor = 100
)

// Embedder generates and persists a document's embedding vector, shrinking
// the input adaptively when the model rejects it for length.
type Embedder struct {
	db       core.DbClient
	provider core.EmbeddingProvider
	dim      int
	log      *zap.SugaredLogger
}

func NewEmbedder(db core.DbClient, provider core.EmbeddingProvider, dim int, log *zap.SugaredLogger) *Embedder {
	return &Embedder{db: db, provider: provider, dim: dim, log: log}
}

// Embed generates the vector for one document. Documents that already have
// one are skipped unless overwrite is set. The vector is persisted only after
// a successful provider call; on success doc.Embedding is updated in place.
func (e *Embedder) Embed(ctx context.Context, doc *models.Document, overwrite bool) error {
	if doc.HasEmbedding() && !overwrite {
		return nil
	}
	input := embedInput(doc)
	if input == "" {
		return core.Formatf("document %s has no text or title to embed", doc.ID)
	}

	for budget := embedBudget; ; {
		vecs, err := e.provider.EmbedTexts(ctx, []string{truncateRunes(input, budget)}, e.dim)
		if err == nil {
			if len(vecs) != 1 {
				return &core.ExternalServiceError{Service: "embedding",
					Err: core.Formatf("expected 1 vector, got %d", len(vecs))}
			}
			if e.dim > 0 && len(vecs[0]) != e.dim {
				return &core.ExternalServiceError{Service: "embedding",
					Err: core.Formatf("expected %d dimensions, got %d", e.dim, len(vecs[0]))}
			}
			if uerr := e.db.UpdateDocumentEmbedding(ctx, doc.ID, vecs[0]); uerr != nil {
				return uerr
			}
			doc.Embedding = vecs[0]
			return nil
		}
		if !errors.Is(err, core.ErrContextLength) {
			return err
		}
		budget = int(float64(budget) * embedShrink)
		if budget < embedFloor {
			return err
		}
		e.log.Warnw("embedding input too long, shrinking", "doc", doc.ID, "budget", budget)
	}
}

// embedInput builds the canonical embedding input: title, blank line, body.
func embedInput(doc *models.Document) string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(doc.Title); t != "" {
		parts = append(parts, t)
	}
	if t := strings.TrimSpace(doc.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n\n")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
