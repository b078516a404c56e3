package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// Browser-like headers; the portal rejects bare clients.
var downloadHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Accept":          "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8",
	"Accept-Language": "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7",
	"Referer":         "https://www.mevzuat.gov.tr/",
	"Connection":      "keep-alive",
}

const DefaultTimeout = 30 * time.Second

// Fetcher downloads source PDFs and persists them: bytes to object storage,
// storage key + byte size to the database in one statement, so a failed
// download never leaves a partial record mutation.
type Fetcher struct {
	db     core.DbClient
	store  core.ObjectClient
	bucket string
	httpc  *resty.Client
	log    *zap.SugaredLogger
}

func New(db core.DbClient, store core.ObjectClient, bucket string, log *zap.SugaredLogger) *Fetcher {
	httpc := resty.New().
		SetHeaders(downloadHeaders).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)

	return &Fetcher{db: db, store: store, bucket: bucket, httpc: httpc, log: log}
}

// FetchAndStore downloads the document's PDF and returns its storage key.
// When bytes already exist and overwrite is false the stored key is returned
// without any network call.
func (f *Fetcher) FetchAndStore(ctx context.Context, doc *models.Document, st *models.SourceType, strategy Strategy, overwrite bool, timeout time.Duration) (string, error) {
	if doc.HasFile() && !overwrite {
		return doc.StorageKey, nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pdfURL, err := strategy.BuildDocumentURL(doc)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.httpc.R().SetContext(reqCtx).Get(pdfURL)
	if err != nil {
		return "", &core.TransportError{URL: pdfURL, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", &core.TransportError{URL: pdfURL, Status: resp.StatusCode()}
	}

	body := resp.Body()
	if len(body) == 0 {
		return "", core.Formatf("empty response body from %s", pdfURL)
	}

	key := storageKey(doc, st)
	if _, err := f.store.UploadFile(ctx, f.bucket, key, body, "application/pdf"); err != nil {
		return "", fmt.Errorf("store document bytes: %w", err)
	}

	// Key and size land in one statement; until it commits the record still
	// points at its previous bytes (or none).
	if err := f.db.UpdateDocumentFile(ctx, doc.ID, key, int64(len(body))); err != nil {
		return "", fmt.Errorf("record document file: %w", err)
	}

	doc.StorageKey = key
	doc.FileSize = int64(len(body))
	f.log.Infow("document fetched", "doc_id", doc.ID, "url", pdfURL, "bytes", len(body))
	return key, nil
}

// storageKey mirrors the upload layout: slug/year/uuid.pdf.
func storageKey(doc *models.Document, st *models.SourceType) string {
	year := "unknown"
	if doc.Date != nil {
		year = doc.Date.Format("2006")
	}
	return fmt.Sprintf("%s/%s/%s.pdf", st.Slug, year, doc.ID)
}
