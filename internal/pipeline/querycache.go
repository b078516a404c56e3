package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// QueryCache memoizes search-query embeddings so repeated queries never hit
// the embedding provider twice.
type QueryCache struct {
	db       core.DbClient
	provider core.EmbeddingProvider
	dim      int
	log      *zap.SugaredLogger
}

func NewQueryCache(db core.DbClient, provider core.EmbeddingProvider, dim int, log *zap.SugaredLogger) *QueryCache {
	return &QueryCache{db: db, provider: provider, dim: dim, log: log}
}

// Embedding returns the vector for query, from cache when possible. A lost
// insert race is reconciled by re-reading the row the winner wrote.
func (qc *QueryCache) Embedding(ctx context.Context, query string) ([]float32, error) {
	norm := normalizeQuery(query)
	if norm == "" {
		return nil, core.Formatf("empty query")
	}

	cached, err := qc.db.GetQueryEmbedding(ctx, norm)
	if err == nil {
		return cached.Embedding, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	vecs, err := qc.provider.EmbedTexts(ctx, []string{norm}, qc.dim)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &core.ExternalServiceError{Service: "embedding",
			Err: core.Formatf("expected 1 vector, got %d", len(vecs))}
	}

	err = qc.db.InsertQueryEmbedding(ctx, &models.QueryEmbedding{Query: norm, Embedding: vecs[0]})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			// A concurrent caller inserted the same query first.
			winner, rerr := qc.db.GetQueryEmbedding(ctx, norm)
			if rerr != nil {
				return nil, rerr
			}
			return winner.Embedding, nil
		}
		return nil, err
	}
	return vecs[0], nil
}

// normalizeQuery lower-cases and collapses whitespace so cache keys are
// stable across cosmetic variations.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
