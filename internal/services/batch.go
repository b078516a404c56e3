package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/core"
	"github.com/mevra-dev/mevra/internal/crawler"
	"github.com/mevra-dev/mevra/internal/fetcher"
	"github.com/mevra-dev/mevra/internal/models"
	"github.com/mevra-dev/mevra/internal/pipeline"
)

// Report counts the outcomes of one batch run. A failed item never stops the
// batch; it is logged, counted and the run moves on.
type Report struct {
	Processed int
	Skipped   int
	Failed    int
}

// BatchOptions scope a batch run.
type BatchOptions struct {
	TypeSlug     string // restrict to one source type; empty means all active
	Limit        int    // max documents per source type; 0 = no cap
	Overwrite    bool   // redo documents that already have the stage's output
	KeywordsOnly bool   // enrich: translate keywords, skip title and summary
	Timeout      time.Duration
}

// Batch drives the pipeline stages over document sets.
type Batch struct {
	db       core.DbClient
	registry *fetcher.Registry
	fetch    *fetcher.Fetcher
	convert  *pipeline.Converter
	embed    *pipeline.Embedder
	enrich   *pipeline.Enricher
	sync     *pipeline.IndexSyncer
	newCrawl func(opts crawler.Options) *crawler.Crawler
	log      *zap.SugaredLogger
}

func NewBatch(
	db core.DbClient,
	registry *fetcher.Registry,
	fetch *fetcher.Fetcher,
	convert *pipeline.Converter,
	embed *pipeline.Embedder,
	enrich *pipeline.Enricher,
	sync *pipeline.IndexSyncer,
	newCrawl func(opts crawler.Options) *crawler.Crawler,
	log *zap.SugaredLogger,
) *Batch {
	return &Batch{
		db: db, registry: registry, fetch: fetch, convert: convert,
		embed: embed, enrich: enrich, sync: sync, newCrawl: newCrawl, log: log,
	}
}

// sourceTypes resolves the batch scope to concrete source types.
func (b *Batch) sourceTypes(ctx context.Context, slug string) ([]models.SourceType, error) {
	if slug != "" {
		st, err := b.db.GetSourceTypeBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		return []models.SourceType{*st}, nil
	}
	return b.db.ListSourceTypes(ctx, true)
}

// Crawl walks the portal listing for each source type in scope and registers
// documents not seen before.
func (b *Batch) Crawl(ctx context.Context, opts BatchOptions, crawlOpts crawler.Options) (map[string]*crawler.Report, error) {
	types, err := b.sourceTypes(ctx, opts.TypeSlug)
	if err != nil {
		return nil, err
	}
	crawlOpts.Limit = opts.Limit
	reports := make(map[string]*crawler.Report, len(types))
	for i := range types {
		st := &types[i]
		rep, err := b.newCrawl(crawlOpts).Run(ctx, st)
		reports[st.Slug] = rep
		if err != nil {
			b.log.Errorw("crawl failed", "source", st.Slug, "err", err)
		}
	}
	return reports, nil
}

// AcquireMissing downloads and stores the raw file for documents that do not
// have one yet (or for all in scope when overwrite is set).
func (b *Batch) AcquireMissing(ctx context.Context, opts BatchOptions) (*Report, error) {
	rep := &Report{}
	err := b.forEach(ctx, opts, func(f *core.DocumentFilter) { f.MissingFile = true },
		func(ctx context.Context, st *models.SourceType, doc *models.Document) (bool, error) {
			if doc.HasFile() && !opts.Overwrite {
				return true, nil
			}
			strategy, err := b.registry.Get(st.Fetcher)
			if err != nil {
				return false, err
			}
			_, err = b.fetch.FetchAndStore(ctx, doc, st, strategy, opts.Overwrite, opts.Timeout)
			return false, err
		}, rep)
	return rep, err
}

// ConvertPending converts stored files into text for documents still missing
// it. Documents whose last conversion failed stay failed until overwrite.
func (b *Batch) ConvertPending(ctx context.Context, opts BatchOptions) (*Report, error) {
	rep := &Report{}
	err := b.forEach(ctx, opts, func(f *core.DocumentFilter) { f.PendingConversion = true },
		func(ctx context.Context, st *models.SourceType, doc *models.Document) (bool, error) {
			if doc.HasText() && !opts.Overwrite {
				return true, nil
			}
			return false, b.convert.Convert(ctx, doc, opts.Overwrite)
		}, rep)
	return rep, err
}

// GenerateEmbeddings creates the embedding vector for documents missing one.
func (b *Batch) GenerateEmbeddings(ctx context.Context, opts BatchOptions) (*Report, error) {
	rep := &Report{}
	err := b.forEach(ctx, opts, func(f *core.DocumentFilter) { f.MissingEmbedding = true },
		func(ctx context.Context, st *models.SourceType, doc *models.Document) (bool, error) {
			if doc.HasEmbedding() && !opts.Overwrite {
				return true, nil
			}
			return false, b.embed.Embed(ctx, doc, opts.Overwrite)
		}, rep)
	return rep, err
}

// Enrich runs summary, keyword and translation generation. The three
// sub-stages guard independently, so a document with only a missing
// translation gets only that.
func (b *Batch) Enrich(ctx context.Context, opts BatchOptions) (*Report, error) {
	rep := &Report{}
	err := b.forEach(ctx, opts, func(f *core.DocumentFilter) { f.MissingEnrichment = true },
		func(ctx context.Context, st *models.SourceType, doc *models.Document) (bool, error) {
			if err := b.enrich.Summarize(ctx, doc, opts.Overwrite); err != nil {
				return false, err
			}
			if err := b.enrich.Keywords(ctx, doc, opts.Overwrite); err != nil {
				return false, err
			}
			return false, b.enrich.Translate(ctx, doc, opts.Overwrite, opts.KeywordsOnly)
		}, rep)
	return rep, err
}

// SyncIndex uploads documents to their source type's semantic index, or
// refreshes attributes for documents already uploaded.
func (b *Batch) SyncIndex(ctx context.Context, opts BatchOptions) (*Report, error) {
	rep := &Report{}
	err := b.forEach(ctx, opts, func(f *core.DocumentFilter) { f.MissingExternalFile = true },
		func(ctx context.Context, st *models.SourceType, doc *models.Document) (bool, error) {
			if st.ExternalIndexID == "" {
				return true, nil
			}
			return false, b.sync.Sync(ctx, doc, st)
		}, rep)
	return rep, err
}

// forEach lists the documents each source type still owes the stage and runs
// the item function over them, isolating per-item failures.
func (b *Batch) forEach(
	ctx context.Context,
	opts BatchOptions,
	narrow func(*core.DocumentFilter),
	item func(context.Context, *models.SourceType, *models.Document) (skipped bool, err error),
	rep *Report,
) error {
	types, err := b.sourceTypes(ctx, opts.TypeSlug)
	if err != nil {
		return err
	}
	for i := range types {
		st := &types[i]
		filter := core.DocumentFilter{SourceTypeID: st.ID, Limit: opts.Limit}
		if !opts.Overwrite {
			narrow(&filter)
		}
		docs, err := b.db.ListDocuments(ctx, filter)
		if err != nil {
			return err
		}
		for j := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc := &docs[j]
			skipped, err := item(ctx, st, doc)
			switch {
			case err != nil:
				rep.Failed++
				b.log.Errorw("batch item failed", "source", st.Slug, "doc", doc.ID, "err", err)
			case skipped:
				rep.Skipped++
			default:
				rep.Processed++
			}
		}
	}
	return nil
}
