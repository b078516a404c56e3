package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/models"
)

// startPageLimit is the page budget conversion starts with; failing engines
// get retried with the budget halved until it reaches one page.
const startPageLimit = 10

const qualityFlagAuthor = "quality-check"

// Converter turns a fetched document's PDF into normalized text, degrading
// the page budget on engine failures and escalating to OCR once when the
// plain extraction comes back garbled.
type Converter struct {
	db      core.DbClient
	store   core.ObjectClient
	bucket  string
	engine  core.ConversionEngine
	quality QualityConfig
	ocrLang string
	log     *zap.SugaredLogger
}

func NewConverter(db core.DbClient, store core.ObjectClient, bucket string, engine core.ConversionEngine, quality QualityConfig, log *zap.SugaredLogger) *Converter {
	return &Converter{db: db, store: store, bucket: bucket, engine: engine, quality: quality, ocrLang: "tr", log: log}
}

// Convert runs the conversion stage for one document. Already-converted
// documents are skipped unless overwrite is set. On success doc.Text and
// doc.TextStatus are updated in place.
func (c *Converter) Convert(ctx context.Context, doc *models.Document, overwrite bool) error {
	if doc.HasText() && !overwrite {
		return nil
	}
	if !doc.HasFile() {
		return core.Formatf("document %s has no stored file", doc.ID)
	}

	data, err := c.store.GetFile(ctx, c.bucket, doc.StorageKey)
	if err != nil {
		return err
	}
	if doc.FileSize == 0 && len(data) > 0 {
		if err := c.db.UpdateDocumentFileSize(ctx, doc.ID, int64(len(data))); err != nil {
			return err
		}
		doc.FileSize = int64(len(data))
	}

	text, err := c.convertDegrading(ctx, data, false)
	if err != nil {
		if serr := c.db.UpdateDocumentStatus(ctx, doc.ID, models.ConversionFailed); serr != nil {
			c.log.Errorw("failed to record conversion failure", "doc", doc.ID, "err", serr)
		}
		doc.TextStatus = models.ConversionFailed
		return err
	}

	// One bounded escalation: if the plain extraction is dominated by
	// unmapped-glyph placeholders, re-convert with OCR forced.
	if c.quality.NeedsOCR(text) {
		c.log.Infow("plain extraction garbled, retrying with OCR", "doc", doc.ID,
			"glyphs", CountGlyphArtifacts(text))
		if ocrText, ocrErr := c.convertDegrading(ctx, data, true); ocrErr == nil {
			text = ocrText
		} else {
			c.log.Warnw("OCR retry failed, keeping plain extraction", "doc", doc.ID, "err", ocrErr)
		}
	}

	status := models.ConversionSuccess
	if reasons := c.quality.Assess(text, doc.FileSize); len(reasons) > 0 {
		status = models.ConversionWarning
		flag := &models.QualityFlag{DocumentID: doc.ID, FlaggedBy: qualityFlagAuthor, Reasons: reasons}
		if ferr := c.db.CreateQualityFlag(ctx, flag); ferr != nil {
			c.log.Errorw("failed to record quality flag", "doc", doc.ID, "err", ferr)
		}
		c.log.Warnw("converted text flagged", "doc", doc.ID, "reasons", reasons)
	}

	if err := c.db.UpdateDocumentText(ctx, doc.ID, text, status); err != nil {
		return err
	}
	doc.Text = text
	doc.TextStatus = status
	return nil
}

// convertDegrading runs the engine with a shrinking page budget. Engine
// failures halve the budget; the loop stops after trying a single page.
func (c *Converter) convertDegrading(ctx context.Context, data []byte, forceOCR bool) (string, error) {
	var lastErr error
	for limit := startPageLimit; limit >= 1; limit /= 2 {
		res, err := c.engine.Convert(ctx, &core.ConvertRequest{
			Data:      data,
			PageLimit: limit,
			ForceOCR:  forceOCR,
			Language:  c.ocrLang,
		})
		if err == nil {
			return res.Text, nil
		}
		var cerr *core.ConversionError
		if !errors.As(err, &cerr) {
			return "", err
		}
		lastErr = err
		c.log.Warnw("conversion failed, halving page budget", "page_limit", limit, "force_ocr", forceOCR, "err", err)
	}
	return "", lastErr
}
