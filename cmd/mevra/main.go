package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mevra-dev/mevra/internal/app"
	"github.com/mevra-dev/mevra/internal/config"
	"github.com/mevra-dev/mevra/internal/crawler"
	"github.com/mevra-dev/mevra/internal/logging"
	"github.com/mevra-dev/mevra/internal/services"
)

func main() {
	cliApp := &cli.App{
		Name:  "mevra",
		Usage: "Legal document ingestion and semantic search pipeline",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the search API server",
				Action: serveCommand,
			},
			{
				Name:   "crawl",
				Usage:  "Walk the source listing and register new documents",
				Action: crawlCommand,
				Flags: append(batchFlags(),
					&cli.IntFlag{Name: "page-size", Usage: "Listing rows per page", Value: 20},
					&cli.IntFlag{Name: "max-pages", Usage: "Hard cap on listing pages", Value: 200},
					&cli.DurationFlag{Name: "pause", Usage: "Delay between page requests", Value: time.Second},
					&cli.StringFlag{Name: "antiforgery", Usage: "Explicit anti-forgery token (skips cookie inference)"},
				),
			},
			{
				Name:   "fetch",
				Usage:  "Download and store files for documents missing one",
				Action: fetchCommand,
				Flags: append(batchFlags(),
					&cli.DurationFlag{Name: "timeout", Usage: "Per-download timeout", Value: 30 * time.Second},
				),
			},
			{
				Name:   "convert",
				Usage:  "Convert stored files to text",
				Action: convertCommand,
				Flags:  batchFlags(),
			},
			{
				Name:   "embed",
				Usage:  "Generate embedding vectors for converted documents",
				Action: embedCommand,
				Flags:  batchFlags(),
			},
			{
				Name:   "enrich",
				Usage:  "Generate summaries, keywords and translations",
				Action: enrichCommand,
				Flags: append(batchFlags(),
					&cli.BoolFlag{Name: "keywords-only", Usage: "Translate keywords only, leave title and summary untouched"},
				),
			},
			{
				Name:   "sync",
				Usage:  "Upload documents to the external semantic index",
				Action: syncCommand,
				Flags:  batchFlags(),
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Restrict to one source type slug"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max documents per source type (0 = no cap)"},
		&cli.BoolFlag{Name: "overwrite", Usage: "Redo documents that already have this stage's output"},
	}
}

// withApp wires the application and hands it to fn, tearing down afterwards.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App, logger *zap.SugaredLogger) error) error {
	cfg := config.LoadConfig()
	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, logger)
}

func batchOptions(c *cli.Context) services.BatchOptions {
	return services.BatchOptions{
		TypeSlug:     c.String("type"),
		Limit:        c.Int("limit"),
		Overwrite:    c.Bool("overwrite"),
		KeywordsOnly: c.Bool("keywords-only"),
		Timeout:      c.Duration("timeout"),
	}
}

func serveCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, logger *zap.SugaredLogger) error {
		errCh := make(chan error, 1)
		go func() { errCh <- a.Server.Start() }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
}

func crawlCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, logger *zap.SugaredLogger) error {
		opts := crawler.Options{
			PageSize:    c.Int("page-size"),
			MaxPages:    c.Int("max-pages"),
			Pause:       c.Duration("pause"),
			Antiforgery: c.String("antiforgery"),
		}
		reports, err := a.Batch.Crawl(ctx, batchOptions(c), opts)
		if err != nil {
			return err
		}
		for slug, rep := range reports {
			fmt.Printf("%s: pages=%d seen=%d created=%d existing=%d invalid=%d no_date=%d\n",
				slug, rep.Pages, rep.Seen, rep.Created, rep.SkippedExisting, rep.SkippedInvalid, rep.SkippedNoDate)
		}
		return nil
	})
}

func fetchCommand(c *cli.Context) error {
	return runBatch(c, "fetch", func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.Report, error) {
		return a.Batch.AcquireMissing(ctx, opts)
	})
}

func convertCommand(c *cli.Context) error {
	return runBatch(c, "convert", func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.Report, error) {
		return a.Batch.ConvertPending(ctx, opts)
	})
}

func embedCommand(c *cli.Context) error {
	return runBatch(c, "embed", func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.Report, error) {
		return a.Batch.GenerateEmbeddings(ctx, opts)
	})
}

func enrichCommand(c *cli.Context) error {
	return runBatch(c, "enrich", func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.Report, error) {
		return a.Batch.Enrich(ctx, opts)
	})
}

func syncCommand(c *cli.Context) error {
	return runBatch(c, "sync", func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.Report, error) {
		return a.Batch.SyncIndex(ctx, opts)
	})
}

func runBatch(c *cli.Context, name string, run func(context.Context, *app.App, services.BatchOptions) (*services.Report, error)) error {
	return withApp(c, func(ctx context.Context, a *app.App, logger *zap.SugaredLogger) error {
		rep, err := run(ctx, a, batchOptions(c))
		if err != nil {
			return err
		}
		fmt.Printf("%s: processed=%d skipped=%d failed=%d\n", name, rep.Processed, rep.Skipped, rep.Failed)
		return nil
	})
}
