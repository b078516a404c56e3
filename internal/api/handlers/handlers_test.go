package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/pipeline"
	"github.com/mevra-dev/mevra/internal/services"
	"github.com/mevra-dev/mevra/internal/testutil"
)

type fixedIndex struct {
	results []core.IndexSearchResult
}

func (f *fixedIndex) CreateFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	return "file-1", nil
}
func (f *fixedIndex) AttachFile(ctx context.Context, indexID, fileID string, attrs map[string]any) error {
	return nil
}
func (f *fixedIndex) UpdateFileAttributes(ctx context.Context, indexID, fileID string, attrs map[string]any) error {
	return nil
}
func (f *fixedIndex) Search(ctx context.Context, indexID string, req *core.IndexSearchRequest) ([]core.IndexSearchResult, error) {
	return f.results, nil
}

func newRouter(db *testutil.FakeDB, index core.SemanticIndex) http.Handler {
	log := zap.NewNop().Sugar()
	search := services.NewSearch(db, index, log)
	similar := services.NewSimilar(db, pipeline.NewQueryCache(db, nil, 1536, log))
	sh := NewSearchHandler(search, similar)
	dh := NewDocumentHandler(db)

	r := chi.NewRouter()
	r.Get("/api/search", sh.Search)
	r.Get("/api/types", dh.ListTypes)
	r.Get("/api/documents", dh.ListDocuments)
	r.Get("/api/documents/{id}", dh.GetDocument)
	r.Get("/api/documents/{id}/similar", sh.Similar)
	return r
}

func doGet(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true, ExternalIndexID: "vs_1"})
	index := &fixedIndex{results: []core.IndexSearchResult{
		{Text: "madde metni", Filename: "a.pdf", Score: 0.8},
	}}
	h := newRouter(db, index)

	rec := doGet(t, h, "/api/search?q=vergi&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []services.SearchHit `json:"results"`
		HasMore bool                 `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "kanun", body.Results[0].Type)
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	h := newRouter(testutil.NewFakeDB(), &fixedIndex{})
	rec := doGet(t, h, "/api/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTypesEndpoint(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Name: "Kanunlar", Active: true})
	db.AddSourceType(models.SourceType{ID: 2, Slug: "mulga", Name: "Mülga", Active: false})
	h := newRouter(db, &fixedIndex{})

	rec := doGet(t, h, "/api/types")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Types []models.SourceType `json:"types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Types, 2, "listing includes inactive types")
}

func TestDocumentsEndpointFiltersByType(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	db.AddSourceType(models.SourceType{ID: 2, Slug: "genelge", Active: true})
	db.AddDocument(models.Document{ID: "a", SourceTypeID: 1, Title: "A"})
	db.AddDocument(models.Document{ID: "b", SourceTypeID: 2, Title: "B"})
	h := newRouter(db, &fixedIndex{})

	rec := doGet(t, h, "/api/documents?type=kanun")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Documents []models.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, "a", body.Documents[0].ID)

	rec = doGet(t, h, "/api/documents?type=yok")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentsEndpointFiltersByDate(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Active: true})
	old := time.Date(2005, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC)
	db.AddDocument(models.Document{ID: "old", SourceTypeID: 1, Date: &old})
	db.AddDocument(models.Document{ID: "recent", SourceTypeID: 1, Date: &recent})
	h := newRouter(db, &fixedIndex{})

	rec := doGet(t, h, "/api/documents?from=2020-01-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Documents []models.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, "recent", body.Documents[0].ID)
}

func TestGetDocumentEndpoint(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddDocument(models.Document{ID: "a", Title: "Kanun A"})
	h := newRouter(db, &fixedIndex{})

	rec := doGet(t, h, "/api/documents/a")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "Kanun A", doc.Title)

	rec = doGet(t, h, "/api/documents/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimilarEndpointWithoutEmbedding(t *testing.T) {
	db := testutil.NewFakeDB()
	db.AddDocument(models.Document{ID: "a", Title: "A"})
	h := newRouter(db, &fixedIndex{})

	rec := doGet(t, h, "/api/documents/a/similar")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unembedded document cannot anchor a similarity query")
}

func TestIntParam(t *testing.T) {
	assert.Equal(t, 7, intParam("7", 0))
	assert.Equal(t, 3, intParam("", 3))
	assert.Equal(t, 3, intParam("abc", 3))
	assert.Equal(t, 3, intParam("-4", 3))
}
