package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/testutil"
)

func TestQueryCacheHit(t *testing.T) {
	db := testutil.NewFakeDB()
	cached := make([]float32, 1536)
	cached[0] = 7
	db.Queries["vergi kanunu"] = &models.QueryEmbedding{ID: 1, Query: "vergi kanunu", Embedding: cached}
	provider := &stubEmbedder{MaxRunes: embedBudget}
	qc := NewQueryCache(db, provider, 1536, zap.NewNop().Sugar())

	vec, err := qc.Embedding(context.Background(), "  Vergi   KANUNU ")
	require.NoError(t, err)
	assert.Equal(t, float32(7), vec[0], "normalized query hits the cached row")
	assert.Empty(t, provider.Calls)
}

func TestQueryCacheMissEmbedsAndStores(t *testing.T) {
	db := testutil.NewFakeDB()
	provider := &stubEmbedder{MaxRunes: embedBudget}
	qc := NewQueryCache(db, provider, 1536, zap.NewNop().Sugar())

	vec, err := qc.Embedding(context.Background(), "dijital hizmet vergisi")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
	require.Len(t, provider.Calls, 1)
	assert.Equal(t, "dijital hizmet vergisi", provider.Calls[0])

	stored, err := db.GetQueryEmbedding(context.Background(), "dijital hizmet vergisi")
	require.NoError(t, err)
	assert.Equal(t, vec, stored.Embedding)
}

func TestQueryCacheEmptyQuery(t *testing.T) {
	qc := NewQueryCache(testutil.NewFakeDB(), &stubEmbedder{}, 1536, zap.NewNop().Sugar())
	_, err := qc.Embedding(context.Background(), "   ")
	var ferr *core.FormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestQueryCacheLostRaceReturnsWinner(t *testing.T) {
	db := testutil.NewFakeDB()
	winner := make([]float32, 1536)
	winner[0] = 99
	db.OnInsertQuery = func(qe *models.QueryEmbedding) error {
		// A concurrent caller wrote the row between our read and insert.
		db.Queries[qe.Query] = &models.QueryEmbedding{ID: 1, Query: qe.Query, Embedding: winner}
		return fmt.Errorf("insert: %w", core.ErrDuplicateKey)
	}
	provider := &stubEmbedder{MaxRunes: embedBudget}
	qc := NewQueryCache(db, provider, 1536, zap.NewNop().Sugar())

	vec, err := qc.Embedding(context.Background(), "muafiyet")
	require.NoError(t, err)
	assert.Equal(t, float32(99), vec[0], "the winning row is returned, not our vector")
	assert.Len(t, provider.Calls, 1)
}
