// Package testutil provides in-memory doubles for the external
// collaborators: the database, the object store and the AI providers.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// FakeDB is an in-memory core.DbClient. All methods are safe for concurrent
// use. Hooks allow tests to inject failures.
type FakeDB struct {
	mu          sync.Mutex
	SourceTypes map[int64]*models.SourceType
	Docs        map[string]*models.Document
	Queries     map[string]*models.QueryEmbedding
	Flags       []*models.QualityFlag

	// OnInsertQuery intercepts InsertQueryEmbedding when set.
	OnInsertQuery func(qe *models.QueryEmbedding) error
	// SearchFn intercepts SearchDocumentsByEmbedding when set.
	SearchFn func(vec []float32, limit int) ([]models.Document, error)
}

func NewFakeDB() *FakeDB {
	return &FakeDB{
		SourceTypes: make(map[int64]*models.SourceType),
		Docs:        make(map[string]*models.Document),
		Queries:     make(map[string]*models.QueryEmbedding),
	}
}

// AddSourceType registers a source type and returns it.
func (f *FakeDB) AddSourceType(st models.SourceType) *models.SourceType {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := st
	f.SourceTypes[cp.ID] = &cp
	return &cp
}

// AddDocument registers a document and returns the stored copy.
func (f *FakeDB) AddDocument(doc models.Document) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := doc
	f.Docs[cp.ID] = &cp
	return &cp
}

// Doc returns the stored document by id, failing loudly when absent.
func (f *FakeDB) Doc(id string) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Docs[id]
	if !ok {
		panic(fmt.Sprintf("testutil: no document %s", id))
	}
	return d
}

func (f *FakeDB) GetSourceTypeBySlug(ctx context.Context, slug string) (*models.SourceType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.SourceTypes {
		if st.Slug == slug {
			cp := *st
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *FakeDB) GetSourceTypeByID(ctx context.Context, id int64) (*models.SourceType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.SourceTypes[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *FakeDB) ListSourceTypes(ctx context.Context, activeOnly bool) ([]models.SourceType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SourceType
	for _, st := range f.SourceTypes {
		if activeOnly && !st.Active {
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

func (f *FakeDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.Docs {
		if d.SourceTypeID == doc.SourceTypeID && d.NativeNumber == doc.NativeNumber && d.Series == doc.Series {
			return fmt.Errorf("document %s: %w", doc.NativeNumber, core.ErrDuplicateKey)
		}
	}
	cp := *doc
	cp.CreatedAt = time.Now()
	f.Docs[cp.ID] = &cp
	return nil
}

func (f *FakeDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *FakeDB) DocumentExists(ctx context.Context, sourceTypeID int64, nativeNumber string, series int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.Docs {
		if d.SourceTypeID == sourceTypeID && d.NativeNumber == nativeNumber && d.Series == series {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeDB) ListDocuments(ctx context.Context, filter core.DocumentFilter) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.Docs {
		if filter.SourceTypeID != 0 && d.SourceTypeID != filter.SourceTypeID {
			continue
		}
		if filter.MissingFile && d.HasFile() {
			continue
		}
		if filter.PendingConversion && (!d.HasFile() || d.HasText() || d.TextStatus == models.ConversionFailed) {
			continue
		}
		if filter.MissingEmbedding && (!d.HasText() || d.HasEmbedding()) {
			continue
		}
		if filter.MissingSummary && (!d.HasText() || d.Summary != "") {
			continue
		}
		if filter.MissingEnrichment && (!d.HasText() || enriched(d)) {
			continue
		}
		if filter.MissingExternalFile && (!d.HasFile() || d.ExternalFileID != "") {
			continue
		}
		if filter.DateFrom != "" && (d.Date == nil || d.Date.Format("2006-01-02") < filter.DateFrom) {
			continue
		}
		if filter.DateTo != "" && (d.Date == nil || d.Date.Format("2006-01-02") > filter.DateTo) {
			continue
		}
		out = append(out, *d)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// enriched reports whether every enrichment field is populated.
func enriched(d *models.Document) bool {
	return d.Summary != "" && len(d.Keywords) > 0 &&
		d.TranslatedTitle != "" && d.TranslatedSummary != "" &&
		len(d.TranslatedKeywords) > 0
}

func (f *FakeDB) update(id string, fn func(d *models.Document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Docs[id]
	if !ok {
		return core.ErrNotFound
	}
	fn(d)
	d.ModifiedAt = time.Now()
	return nil
}

func (f *FakeDB) UpdateDocumentFile(ctx context.Context, id, storageKey string, size int64) error {
	return f.update(id, func(d *models.Document) { d.StorageKey = storageKey; d.FileSize = size })
}

func (f *FakeDB) UpdateDocumentText(ctx context.Context, id, text, status string) error {
	return f.update(id, func(d *models.Document) { d.Text = text; d.TextStatus = status })
}

func (f *FakeDB) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	return f.update(id, func(d *models.Document) { d.TextStatus = status })
}

func (f *FakeDB) UpdateDocumentFileSize(ctx context.Context, id string, size int64) error {
	return f.update(id, func(d *models.Document) { d.FileSize = size })
}

func (f *FakeDB) UpdateDocumentEmbedding(ctx context.Context, id string, vec []float32) error {
	return f.update(id, func(d *models.Document) { d.Embedding = vec })
}

func (f *FakeDB) UpdateDocumentSummary(ctx context.Context, id, summary string) error {
	return f.update(id, func(d *models.Document) { d.Summary = summary })
}

func (f *FakeDB) UpdateDocumentKeywords(ctx context.Context, id string, keywords, translated []string) error {
	return f.update(id, func(d *models.Document) { d.Keywords = keywords; d.TranslatedKeywords = translated })
}

func (f *FakeDB) UpdateDocumentTranslations(ctx context.Context, id, title, summary string, keywords []string) error {
	return f.update(id, func(d *models.Document) {
		d.TranslatedTitle = title
		d.TranslatedSummary = summary
		d.TranslatedKeywords = keywords
	})
}

func (f *FakeDB) UpdateDocumentExternalFile(ctx context.Context, id, fileID string) error {
	return f.update(id, func(d *models.Document) { d.ExternalFileID = fileID })
}

func (f *FakeDB) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]string) error {
	return f.update(id, func(d *models.Document) { d.Metadata = metadata })
}

func (f *FakeDB) SearchDocumentsByEmbedding(ctx context.Context, vec []float32, limit int) ([]models.Document, error) {
	if f.SearchFn != nil {
		return f.SearchFn(vec, limit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.Docs {
		if d.HasEmbedding() {
			out = append(out, *d)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeDB) GetQueryEmbedding(ctx context.Context, query string) (*models.QueryEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qe, ok := f.Queries[query]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *qe
	return &cp, nil
}

func (f *FakeDB) InsertQueryEmbedding(ctx context.Context, qe *models.QueryEmbedding) error {
	if f.OnInsertQuery != nil {
		if err := f.OnInsertQuery(qe); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.Queries[qe.Query]; exists {
		return fmt.Errorf("query %q: %w", qe.Query, core.ErrDuplicateKey)
	}
	cp := *qe
	cp.ID = int64(len(f.Queries) + 1)
	f.Queries[cp.Query] = &cp
	return nil
}

func (f *FakeDB) CreateQualityFlag(ctx context.Context, flag *models.QualityFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *flag
	cp.ID = int64(len(f.Flags) + 1)
	f.Flags = append(f.Flags, &cp)
	return nil
}

func (f *FakeDB) Close() error { return nil }

var _ core.DbClient = (*FakeDB)(nil)

// FakeStore is an in-memory core.ObjectClient keyed by bucket/key.
type FakeStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Objects: make(map[string][]byte)}
}

func (s *FakeStore) key(bucket, key string) string { return bucket + "/" + key }

func (s *FakeStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[s.key(bucket, key)] = data
}

func (s *FakeStore) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	s.Put(bucket, key, data)
	return "https://storage.test/" + s.key(bucket, key), nil
}

func (s *FakeStore) DeleteFile(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, s.key(bucket, key))
	return nil
}

func (s *FakeStore) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[s.key(bucket, key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return data, nil
}

func (s *FakeStore) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, err := s.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var _ core.ObjectClient = (*FakeStore)(nil)
