package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mevra-dev/mevra/internal/config"
	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool settings sized for batch jobs plus the read API.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// Source types

func (c *DatabaseClient) GetSourceTypeBySlug(ctx context.Context, slug string) (*models.SourceType, error) {
	return c.getSourceType(ctx, `WHERE slug = $1`, slug)
}

func (c *DatabaseClient) GetSourceTypeByID(ctx context.Context, id int64) (*models.SourceType, error) {
	return c.getSourceType(ctx, `WHERE id = $1`, id)
}

func (c *DatabaseClient) getSourceType(ctx context.Context, where string, arg any) (*models.SourceType, error) {
	q := `
		SELECT id, name, short_code, slug, active, fetcher, external_index_id, created_at
		FROM source_types ` + where
	var st models.SourceType
	err := c.db.QueryRowContext(ctx, q, arg).Scan(
		&st.ID, &st.Name, &st.ShortCode, &st.Slug, &st.Active, &st.Fetcher, &st.ExternalIndexID, &st.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *DatabaseClient) ListSourceTypes(ctx context.Context, activeOnly bool) ([]models.SourceType, error) {
	q := `
		SELECT id, name, short_code, slug, active, fetcher, external_index_id, created_at
		FROM source_types
	`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY name`

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SourceType
	for rows.Next() {
		var st models.SourceType
		if err := rows.Scan(
			&st.ID, &st.Name, &st.ShortCode, &st.Slug, &st.Active, &st.Fetcher, &st.ExternalIndexID, &st.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Documents

const documentColumns = `
	id, source_type_id, title, translated_title, doc_date, native_number, series,
	storage_key, file_size, text, text_status, embedding,
	summary, translated_summary, keywords, translated_keywords,
	external_file_id, metadata, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d        models.Document
		docDate  sql.NullTime
		emb      nullVector
		kw, tkw  []byte
		metadata []byte
	)
	err := r.Scan(
		&d.ID, &d.SourceTypeID, &d.Title, &d.TranslatedTitle, &docDate, &d.NativeNumber, &d.Series,
		&d.StorageKey, &d.FileSize, &d.Text, &d.TextStatus, &emb,
		&d.Summary, &d.TranslatedSummary, &kw, &tkw,
		&d.ExternalFileID, &metadata, &d.CreatedAt, &d.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if docDate.Valid {
		t := docDate.Time
		d.Date = &t
	}
	if emb.valid {
		d.Embedding = emb.vec.Slice()
	}
	if err := json.Unmarshal(kw, &d.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if err := json.Unmarshal(tkw, &d.TranslatedKeywords); err != nil {
		return nil, fmt.Errorf("decode translated keywords: %w", err)
	}
	if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	md, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const q = `
		INSERT INTO documents (id, source_type_id, title, doc_date, native_number, series, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.SourceTypeID, doc.Title, doc.Date, doc.NativeNumber, doc.Series, md)
	if isUniqueViolation(err) {
		return fmt.Errorf("document %s/%s.%d: %w", doc.NativeNumber, doc.Title, doc.Series, core.ErrDuplicateKey)
	}
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return doc, err
}

func (c *DatabaseClient) DocumentExists(ctx context.Context, sourceTypeID int64, nativeNumber string, series int) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM documents
			WHERE source_type_id = $1 AND native_number = $2 AND series = $3
		)
	`
	var exists bool
	err := c.db.QueryRowContext(ctx, q, sourceTypeID, nativeNumber, series).Scan(&exists)
	return exists, err
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, f core.DocumentFilter) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE TRUE`
	var args []any
	if f.SourceTypeID != 0 {
		args = append(args, f.SourceTypeID)
		q += fmt.Sprintf(" AND source_type_id = $%d", len(args))
	}
	if f.MissingFile {
		q += ` AND storage_key = ''`
	}
	if f.PendingConversion {
		q += ` AND storage_key <> '' AND text = '' AND text_status <> 'failed'`
	}
	if f.MissingEmbedding {
		q += ` AND text <> '' AND embedding IS NULL`
	}
	if f.MissingSummary {
		q += ` AND text <> '' AND summary = ''`
	}
	if f.MissingEnrichment {
		q += ` AND text <> '' AND (summary = '' OR keywords = '[]'::jsonb` +
			` OR translated_title = '' OR translated_summary = ''` +
			` OR translated_keywords = '[]'::jsonb)`
	}
	if f.MissingExternalFile {
		q += ` AND storage_key <> '' AND external_file_id = ''`
	}
	if f.DateFrom != "" {
		args = append(args, f.DateFrom)
		q += fmt.Sprintf(" AND doc_date >= $%d", len(args))
	}
	if f.DateTo != "" {
		args = append(args, f.DateTo)
		q += fmt.Sprintf(" AND doc_date <= $%d", len(args))
	}
	q += ` ORDER BY doc_date DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentFile(ctx context.Context, id, storageKey string, size int64) error {
	const q = `
		UPDATE documents
		SET storage_key = $2, file_size = $3, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, storageKey, size)
}

func (c *DatabaseClient) UpdateDocumentText(ctx context.Context, id, text, status string) error {
	const q = `
		UPDATE documents
		SET text = $2, text_status = $3, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, text, status)
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	const q = `
		UPDATE documents
		SET text_status = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, status)
}

func (c *DatabaseClient) UpdateDocumentFileSize(ctx context.Context, id string, size int64) error {
	const q = `
		UPDATE documents
		SET file_size = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, size)
}

func (c *DatabaseClient) UpdateDocumentEmbedding(ctx context.Context, id string, vec []float32) error {
	const q = `
		UPDATE documents
		SET embedding = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, pgvector.NewVector(vec))
}

func (c *DatabaseClient) UpdateDocumentSummary(ctx context.Context, id, summary string) error {
	const q = `
		UPDATE documents
		SET summary = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, summary)
}

func (c *DatabaseClient) UpdateDocumentKeywords(ctx context.Context, id string, keywords, translated []string) error {
	kw, err := marshalJSON(keywords)
	if err != nil {
		return err
	}
	tkw, err := marshalJSON(translated)
	if err != nil {
		return err
	}
	const q = `
		UPDATE documents
		SET keywords = $2, translated_keywords = $3, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, kw, tkw)
}

func (c *DatabaseClient) UpdateDocumentTranslations(ctx context.Context, id, title, summary string, keywords []string) error {
	kw, err := marshalJSON(keywords)
	if err != nil {
		return err
	}
	const q = `
		UPDATE documents
		SET translated_title = $2, translated_summary = $3, translated_keywords = $4, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, title, summary, kw)
}

func (c *DatabaseClient) UpdateDocumentExternalFile(ctx context.Context, id, fileID string) error {
	const q = `
		UPDATE documents
		SET external_file_id = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, fileID)
}

func (c *DatabaseClient) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]string) error {
	md, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	const q = `
		UPDATE documents
		SET metadata = $2, modified_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, q, id, md)
}

func (c *DatabaseClient) execOne(ctx context.Context, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %v: %w", args[0], core.ErrNotFound)
	}
	return nil
}

// SearchDocumentsByEmbedding finds the nearest documents to a query vector.
func (c *DatabaseClient) SearchDocumentsByEmbedding(ctx context.Context, vec []float32, limit int) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <-> $1
		LIMIT $2`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// Query embedding cache

func (c *DatabaseClient) GetQueryEmbedding(ctx context.Context, query string) (*models.QueryEmbedding, error) {
	const q = `
		SELECT id, query, embedding, created_at
		FROM query_embeddings WHERE query = $1
	`
	var (
		qe  models.QueryEmbedding
		vec pgvector.Vector
	)
	err := c.db.QueryRowContext(ctx, q, query).Scan(&qe.ID, &qe.Query, &vec, &qe.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	qe.Embedding = vec.Slice()
	return &qe, nil
}

func (c *DatabaseClient) InsertQueryEmbedding(ctx context.Context, qe *models.QueryEmbedding) error {
	const q = `
		INSERT INTO query_embeddings (query, embedding)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := c.db.QueryRowContext(ctx, q, qe.Query, pgvector.NewVector(qe.Embedding)).
		Scan(&qe.ID, &qe.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("query %q: %w", qe.Query, core.ErrDuplicateKey)
	}
	return err
}

// Quality flags

func (c *DatabaseClient) CreateQualityFlag(ctx context.Context, flag *models.QualityFlag) error {
	if flag == nil {
		return errors.New("nil flag")
	}
	reasons, err := marshalJSON(flag.Reasons)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO quality_flags (document_id, flagged_by, reasons)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	return c.db.QueryRowContext(ctx, q, flag.DocumentID, flag.FlaggedBy, reasons).
		Scan(&flag.ID, &flag.CreatedAt)
}

var _ core.DbClient = (*DatabaseClient)(nil)
