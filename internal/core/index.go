package core

import (
	"context"
	"io"
)

// IndexFilter is an attribute filter expression for index searches.
// Type is one of "eq", "gte", "lte" (leaf) or "and" (compound).
type IndexFilter struct {
	Type    string         `json:"type"`
	Key     string         `json:"key,omitempty"`
	Value   any            `json:"value,omitempty"`
	Filters []*IndexFilter `json:"filters,omitempty"`
}

// IndexSearchRequest is a query against one semantic index.
type IndexSearchRequest struct {
	Query          string
	MaxResults     int
	Filter         *IndexFilter
	ScoreThreshold float64 // 0 = no threshold
	RewriteQuery   bool
}

// IndexSearchResult is one ranked snippet returned by the index.
type IndexSearchResult struct {
	Text       string         `json:"text"`
	Filename   string         `json:"filename"`
	Score      float64        `json:"score"`
	Attributes map[string]any `json:"attributes"`
}

// SemanticIndex is the external vector-search service storing uploaded files
// plus filterable attributes. Errors are surfaced as-is; retry policy belongs
// to the calling batch job.
type SemanticIndex interface {
	// CreateFile uploads the raw bytes and returns the external file id.
	// Content is streamed from r; implementations must not assume a local
	// filesystem path exists.
	CreateFile(ctx context.Context, filename string, r io.Reader) (string, error)

	// AttachFile attaches an uploaded file to an index with its attributes.
	AttachFile(ctx context.Context, indexID, fileID string, attrs map[string]any) error

	// UpdateFileAttributes replaces the attribute bag on an already-attached file.
	UpdateFileAttributes(ctx context.Context, indexID, fileID string, attrs map[string]any) error

	Search(ctx context.Context, indexID string, req *IndexSearchRequest) ([]IndexSearchResult, error)
}
