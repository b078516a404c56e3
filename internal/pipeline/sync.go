package pipeline

import (
	"context"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// maxIndexAttrs caps the attribute bag; the index service rejects files with
// more entries.
const maxIndexAttrs = 16

const maxAttrTitleLen = 250

// IndexSyncer pushes documents into the external semantic index: uploads the
// raw file once and keeps its filterable attributes current afterwards.
type IndexSyncer struct {
	db     core.DbClient
	store  core.ObjectClient
	bucket string
	index  core.SemanticIndex
	log    *zap.SugaredLogger
}

func NewIndexSyncer(db core.DbClient, store core.ObjectClient, bucket string, index core.SemanticIndex, log *zap.SugaredLogger) *IndexSyncer {
	return &IndexSyncer{db: db, store: store, bucket: bucket, index: index, log: log}
}

// Sync brings one document's index state up to date. A document already
// uploaded gets its attributes refreshed; a new one is streamed up and
// attached, and the external file id is persisted.
func (s *IndexSyncer) Sync(ctx context.Context, doc *models.Document, st *models.SourceType) error {
	if st.ExternalIndexID == "" {
		return core.Formatf("source type %s has no external index", st.Slug)
	}
	attrs := indexAttributes(doc, st)

	if doc.ExternalFileID != "" {
		if err := s.index.UpdateFileAttributes(ctx, st.ExternalIndexID, doc.ExternalFileID, attrs); err != nil {
			// The id may stem from a run that failed between create and
			// attach; attaching completes that sync.
			s.log.Warnw("attribute refresh failed, attaching instead", "doc", doc.ID, "file", doc.ExternalFileID, "err", err)
			return s.index.AttachFile(ctx, st.ExternalIndexID, doc.ExternalFileID, attrs)
		}
		return nil
	}

	if !doc.HasFile() {
		return core.Formatf("document %s has no stored file to upload", doc.ID)
	}
	r, err := s.store.GetObjectReader(ctx, s.bucket, doc.StorageKey)
	if err != nil {
		return err
	}
	defer r.Close()

	fileID, err := s.index.CreateFile(ctx, path.Base(doc.StorageKey), r)
	if err != nil {
		return err
	}
	// Persist the id before attaching: a failed attach then retries the
	// attach on the next run instead of uploading a duplicate file.
	if err := s.db.UpdateDocumentExternalFile(ctx, doc.ID, fileID); err != nil {
		return err
	}
	doc.ExternalFileID = fileID
	if err := s.index.AttachFile(ctx, st.ExternalIndexID, fileID, attrs); err != nil {
		return err
	}
	s.log.Infow("document attached to index", "doc", doc.ID, "index", st.ExternalIndexID, "file", fileID)
	return nil
}

// indexAttributes builds the filterable attribute bag for one document.
func indexAttributes(doc *models.Document, st *models.SourceType) map[string]any {
	attrs := map[string]any{
		"title":  truncateRunes(doc.Title, maxAttrTitleLen),
		"type":   st.Slug,
		"number": doc.NativeNumber,
	}
	if doc.Date != nil {
		attrs["date"] = doc.Date.Format("2006-01-02")
	}
	// Sorted so the entries surviving the cap are the same on every sync.
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(attrs) >= maxIndexAttrs {
			break
		}
		if _, taken := attrs[k]; !taken {
			attrs[k] = doc.Metadata[k]
		}
	}
	return attrs
}
