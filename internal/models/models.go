package models

import (
	"time"
)

// Conversion status values for Document.TextStatus.
const (
	ConversionUnset   = ""
	ConversionSuccess = "success"
	ConversionWarning = "warning"
	ConversionFailed  = "failed"
)

// SourceType is a category of legal document (kanun, yönetmelik, genelge...)
// with its own fetch strategy and target semantic index.
type SourceType struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	ShortCode       string    `db:"short_code" json:"short_code"` // MevzuatTur filter value for the listing endpoint
	Slug            string    `db:"slug" json:"slug"`
	Active          bool      `db:"active" json:"active"`
	Fetcher         string    `db:"fetcher" json:"fetcher"`                     // registry key of the fetch strategy
	ExternalIndexID string    `db:"external_index_id" json:"external_index_id"` // vector store the documents of this type are attached to
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Document is one source publication moving through the pipeline.
//
// The crawler creates it with metadata only; the fetcher fills StorageKey and
// FileSize, conversion fills Text and TextStatus, and the enrichment stages
// fill the remaining fields independently.
type Document struct {
	ID           string `db:"id" json:"id"`
	SourceTypeID int64  `db:"source_type_id" json:"source_type_id"`

	Title           string `db:"title" json:"title"`
	TranslatedTitle string `db:"translated_title" json:"translated_title"`

	// The significant date for the document: gazette publication date for
	// legislation, issue date for circulars.
	Date *time.Time `db:"doc_date" json:"date"`

	// Natural dedup key assigned by the source system.
	NativeNumber string `db:"native_number" json:"native_number"`
	Series       int    `db:"series" json:"series"`

	StorageKey string `db:"storage_key" json:"storage_key"` // object-store key of the raw PDF; empty until fetched
	FileSize   int64  `db:"file_size" json:"file_size"`

	Text       string `db:"text" json:"-"`
	TextStatus string `db:"text_status" json:"text_status"`

	Embedding []float32 `db:"embedding" json:"-"` // fixed dimension, nil until generated

	Summary            string   `db:"summary" json:"summary"`
	TranslatedSummary  string   `db:"translated_summary" json:"translated_summary"`
	Keywords           []string `db:"keywords" json:"keywords"`
	TranslatedKeywords []string `db:"translated_keywords" json:"translated_keywords"`

	ExternalFileID string `db:"external_file_id" json:"external_file_id"`

	// Source-specific key/value bag (resmi_gazete_tarihi, mukerrer, ...).
	Metadata map[string]string `db:"metadata" json:"metadata"`

	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// HasFile reports whether the raw bytes have been acquired.
func (d *Document) HasFile() bool { return d.StorageKey != "" }

// HasText reports whether conversion has produced normalized text.
func (d *Document) HasText() bool { return d.Text != "" }

// HasEmbedding reports whether an embedding vector has been generated.
func (d *Document) HasEmbedding() bool { return len(d.Embedding) > 0 }

// QueryEmbedding memoizes the embedding of a normalized search query.
type QueryEmbedding struct {
	ID        int64     `db:"id" json:"id"`
	Query     string    `db:"query" json:"query"` // normalized (lower-cased, whitespace-collapsed), unique
	Embedding []float32 `db:"embedding" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// QualityFlag marks a document whose converted text looks malformed.
type QualityFlag struct {
	ID         int64     `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	FlaggedBy  string    `db:"flagged_by" json:"flagged_by"` // "quality-check" for automated flags
	Reasons    []string  `db:"reasons" json:"reasons"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
