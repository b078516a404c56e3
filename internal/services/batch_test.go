package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/fetcher"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/pipeline"
	"github.com/mevra-dev/mevra/internal/testutil"
)

// brokenDocEmbedder fails for any input containing "bozuk".
type brokenDocEmbedder struct{}

func (brokenDocEmbedder) EmbedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if strings.Contains(text, "bozuk") {
			return nil, errors.New("model rejected input")
		}
		out = append(out, make([]float32, dim))
	}
	return out, nil
}

func newBatchFixture(db *testutil.FakeDB) *Batch {
	log := zap.NewNop().Sugar()
	embed := pipeline.NewEmbedder(db, brokenDocEmbedder{}, 1536, log)
	sync := pipeline.NewIndexSyncer(db, testutil.NewFakeStore(), "docs", nil, log)
	registry := fetcher.NewRegistry("https://example.test/")
	fetch := fetcher.New(db, testutil.NewFakeStore(), "docs", log)
	return NewBatch(db, registry, fetch, nil, embed, nil, sync, nil, log)
}

func TestGenerateEmbeddingsIsolatesFailures(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, Title: "A", Text: "sağlam metin"})
	db.AddDocument(models.Document{ID: "b", SourceTypeID: 1, Title: "B", Text: "bozuk metin"})
	db.AddDocument(models.Document{ID: "c", SourceTypeID: 1, Title: "C", Text: "sağlam metin"})
	b := newBatchFixture(db)

	rep, err := b.GenerateEmbeddings(context.Background(), BatchOptions{})
	require.NoError(t, err, "a failing document never aborts the batch")

	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Failed)
	assert.NotEmpty(t, db.Doc("a").Embedding)
	assert.Empty(t, db.Doc("b").Embedding)
	assert.NotEmpty(t, db.Doc("c").Embedding)
}

func TestBatchScopesToSourceType(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	db.AddSourceType(models.SourceType{ID: 2, Slug: "genelge", Active: true})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, Title: "A", Text: "metin"})
	db.AddDocument(models.Document{ID: "b", SourceTypeID: 2, Title: "B", Text: "metin"})
	b := newBatchFixture(db)

	rep, err := b.GenerateEmbeddings(context.Background(), BatchOptions{TypeSlug: "kanun"})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Processed)
	assert.NotEmpty(t, db.Doc("a").Embedding)
	assert.Empty(t, db.Doc("b").Embedding, "other source types untouched")
}

func TestBatchUnknownTypeSlug(t *testing.T) {
	b := newBatchFixture(testutil.NewFakeDB())
	_, err := b.GenerateEmbeddings(context.Background(), BatchOptions{TypeSlug: "yok"})
	assert.Error(t, err)
}

func TestBatchInactiveTypesExcluded(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "mulga", Active: false})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, Title: "A", Text: "metin"})
	b := newBatchFixture(db)

	rep, err := b.GenerateEmbeddings(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
}

func TestEnrichListsPartiallyEnrichedDocuments(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	db.AddDocument(models.Document{
		ID: "a", SourceTypeID: 1, Title: "Dijital Hizmet Vergisi Kanunu",
		Text: "metin", Summary: "Mevcut özet.",
	})
	log := zap.NewNop().Sugar()
	b := NewBatch(db, nil, nil, nil, nil, pipeline.NewEnricher(db, cannedLLM{}, log), nil, nil, log)

	rep, err := b.Enrich(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Processed, "an existing summary does not hide missing keywords or translations")
	stored := db.Doc("a")
	assert.Equal(t, "Mevcut özet.", stored.Summary, "populated summary untouched")
	assert.Equal(t, []string{"dijital hizmet", "vergi muafiyeti"}, stored.Keywords)
	assert.Equal(t, "Digital Service Tax Law", stored.TranslatedTitle)
}

func TestSyncIndexSkipsTypesWithoutIndex(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, StorageKey: "kanun/2020/a.pdf"})
	b := newBatchFixture(db)

	rep, err := b.SyncIndex(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped, "no external index configured, nothing to do")
	assert.Zero(t, rep.Failed)
}

func TestAcquireMissingUnknownFetcher(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "tuzuk", Active: true, Fetcher: "bilinmeyen"})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, NativeNumber: "1"})
	b := newBatchFixture(db)

	rep, err := b.AcquireMissing(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed, "a misconfigured source type fails its items, not the run")
}
