package core

import (
	"context"
	"io"

	"github.com/mevra-dev/mevra/internal/models"
)

// DocumentFilter selects documents for batch processing. Zero value matches
// everything; boolean fields narrow to documents still missing that stage's
// output.
type DocumentFilter struct {
	SourceTypeID        int64
	MissingFile         bool
	PendingConversion   bool // has bytes, no text, not failed
	MissingEmbedding    bool // has text, no vector
	MissingSummary      bool
	MissingEnrichment   bool // has text, any enrichment field empty
	MissingExternalFile bool
	DateFrom            string // inclusive, "2006-01-02"
	DateTo              string // inclusive
	Limit               int
}

// DbClient defines all persistence operations the pipeline needs.
// It abstracts Postgres/pgvector so stages never depend on a specific DB.
type DbClient interface {
	GetSourceTypeBySlug(ctx context.Context, slug string) (*models.SourceType, error)
	GetSourceTypeByID(ctx context.Context, id int64) (*models.SourceType, error)
	ListSourceTypes(ctx context.Context, activeOnly bool) ([]models.SourceType, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	DocumentExists(ctx context.Context, sourceTypeID int64, nativeNumber string, series int) (bool, error)
	ListDocuments(ctx context.Context, f DocumentFilter) ([]models.Document, error)

	// Per-stage mutations. Each writes the stage's full output in a single
	// statement so a failure never leaves a half-updated record.
	UpdateDocumentFile(ctx context.Context, id, storageKey string, size int64) error
	UpdateDocumentText(ctx context.Context, id, text, status string) error
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	UpdateDocumentFileSize(ctx context.Context, id string, size int64) error
	UpdateDocumentEmbedding(ctx context.Context, id string, vec []float32) error
	UpdateDocumentSummary(ctx context.Context, id, summary string) error
	UpdateDocumentKeywords(ctx context.Context, id string, keywords, translated []string) error
	UpdateDocumentTranslations(ctx context.Context, id, title, summary string, keywords []string) error
	UpdateDocumentExternalFile(ctx context.Context, id, fileID string) error
	UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]string) error

	SearchDocumentsByEmbedding(ctx context.Context, vec []float32, limit int) ([]models.Document, error)

	// Query embedding cache. GetQueryEmbedding returns ErrNotFound on miss;
	// InsertQueryEmbedding returns ErrDuplicateKey when a concurrent caller
	// inserted the same normalized query first.
	GetQueryEmbedding(ctx context.Context, query string) (*models.QueryEmbedding, error)
	InsertQueryEmbedding(ctx context.Context, qe *models.QueryEmbedding) error

	CreateQualityFlag(ctx context.Context, flag *models.QualityFlag) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
