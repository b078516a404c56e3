package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/config"
	"github.com/mevra-dev/mevra/internal/convert"
	"github.com/mevra-dev/mevra/internal/core"
	db "github.com/mevra-dev/mevra/internal/core/database"
	"github.com/mevra-dev/mevra/internal/core/llm"
	"github.com/mevra-dev/mevra/internal/core/objectstore"
	"github.com/mevra-dev/mevra/internal/crawler"
	"github.com/mevra-dev/mevra/internal/fetcher"
	"github.com/mevra-dev/mevra/internal/pipeline"
	"github.com/mevra-dev/mevra/internal/services"
	"github.com/mevra-dev/mevra/internal/vectorindex"
)

// App holds every wired collaborator: persistence, storage, AI providers,
// the pipeline stages and the HTTP server.
type App struct {
	Cfg      *config.Config
	Log      *zap.SugaredLogger
	DBClient core.DbClient
	Batch    *services.Batch
	Server   *Server

	embedder *llm.GeminiEmbedder
	genLLM   *llm.GeminiLLM
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database initialized and ready")

	objClient, err := objectstore.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("object client initialized and ready")

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	genLLM, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the LLM: %w", err)
	}

	var engine core.ConversionEngine
	if cfg.DoclingURL != "" {
		engine = convert.NewDoclingEngine(cfg.DoclingURL)
	} else {
		engine = convert.NewDocconvEngine()
		log.Warn("DOCLING_URL not set, using local extractor without OCR support")
	}

	index, err := vectorindex.NewClient(cfg.IndexBaseURL, cfg.IndexAPIKey)
	if err != nil {
		return nil, err
	}

	registry := fetcher.NewRegistry(cfg.SourceBaseURL)
	fetch := fetcher.New(dbClient, objClient, cfg.BucketName, log)
	converter := pipeline.NewConverter(dbClient, objClient, cfg.BucketName, engine, pipeline.DefaultQualityConfig(), log)
	embedder := pipeline.NewEmbedder(dbClient, geminiEmbedder, cfg.EmbedDim, log)
	enricher := pipeline.NewEnricher(dbClient, genLLM, log)
	syncer := pipeline.NewIndexSyncer(dbClient, objClient, cfg.BucketName, index, log)
	newCrawl := func(opts crawler.Options) *crawler.Crawler {
		return crawler.New(dbClient, cfg.SourceBaseURL, log, opts)
	}

	batch := services.NewBatch(dbClient, registry, fetch, converter, embedder, enricher, syncer, newCrawl, log)

	qcache := pipeline.NewQueryCache(dbClient, geminiEmbedder, cfg.EmbedDim, log)
	search := services.NewSearch(dbClient, index, log)
	similar := services.NewSimilar(dbClient, qcache)
	server := NewServer(cfg, dbClient, search, similar, log)

	return &App{
		Cfg: cfg, Log: log, DBClient: dbClient, Batch: batch, Server: server,
		embedder: geminiEmbedder, genLLM: genLLM,
	}, nil
}

func (a *App) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.genLLM != nil {
		_ = a.genLLM.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
