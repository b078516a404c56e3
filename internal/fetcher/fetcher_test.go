package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/testutil"
)

func newFetchFixture(t *testing.T, handler http.HandlerFunc) (*testutil.FakeDB, *testutil.FakeStore, *Fetcher, Strategy, *models.SourceType, *models.Document) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db := testutil.NewFakeDB()
	store := testutil.NewFakeStore()
	st := db.AddSourceType(models.SourceType{ID: 1, Slug: "kanun", Fetcher: "kanun", Active: true})
	date := time.Date(2019, 12, 7, 0, 0, 0, 0, time.UTC)
	doc := db.AddDocument(models.Document{
		ID: "doc-1", SourceTypeID: 1, NativeNumber: "7194", Series: 5, Date: &date,
		Metadata: map[string]string{MetaTur: "1", MetaTertib: "5"},
	})
	f := New(db, store, "docs", zap.NewNop().Sugar())
	strategy, err := NewRegistry(srv.URL + "/").Get("kanun")
	require.NoError(t, err)
	return db, store, f, strategy, st, doc
}

func TestFetchAndStore(t *testing.T) {
	var gotPath string
	db, store, f, strategy, st, doc := newFetchFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("%PDF-1.4 content"))
	})

	key, err := f.FetchAndStore(context.Background(), doc, st, strategy, false, 0)
	require.NoError(t, err)

	assert.Equal(t, "/MevzuatMetin/1.5.7194.pdf", gotPath)
	assert.Equal(t, "kanun/2019/doc-1.pdf", key)

	data, err := store.GetFile(context.Background(), "docs", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 content"), data)

	stored := db.Doc("doc-1")
	assert.Equal(t, key, stored.StorageKey)
	assert.Equal(t, int64(len("%PDF-1.4 content")), stored.FileSize)
}

func TestFetchSkipsStoredDocument(t *testing.T) {
	requests := 0
	_, _, f, strategy, st, doc := newFetchFixture(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("pdf"))
	})
	doc.StorageKey = "kanun/2019/doc-1.pdf"

	key, err := f.FetchAndStore(context.Background(), doc, st, strategy, false, 0)
	require.NoError(t, err)
	assert.Equal(t, "kanun/2019/doc-1.pdf", key)
	assert.Zero(t, requests, "stored bytes are kept without a network call")

	_, err = f.FetchAndStore(context.Background(), doc, st, strategy, true, 0)
	require.NoError(t, err)
	assert.Positive(t, requests, "overwrite re-downloads")
}

func TestFetchHTTPFailure(t *testing.T) {
	_, _, f, strategy, st, doc := newFetchFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := f.FetchAndStore(context.Background(), doc, st, strategy, false, 0)
	var terr *core.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.Status)
	assert.Empty(t, doc.StorageKey)
}

func TestFetchEmptyBody(t *testing.T) {
	_, _, f, strategy, st, doc := newFetchFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := f.FetchAndStore(context.Background(), doc, st, strategy, false, 0)
	var ferr *core.FormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestStorageKeyWithoutDate(t *testing.T) {
	st := &models.SourceType{Slug: "genelge"}
	doc := &models.Document{ID: "abc"}
	assert.Equal(t, "genelge/unknown/abc.pdf", storageKey(doc, st))
}
