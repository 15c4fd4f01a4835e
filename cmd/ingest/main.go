// Command ingest runs the news ingestion cycle: scrape the Syrian news
// sources, extract Q&A pairs with Gemini, and admit new pairs into SQLite
// and Qdrant. Runs once by default; -loop keeps it on the interval.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shamgpt/shamgpt/engine/canonical"
	"github.com/shamgpt/shamgpt/engine/ingest"
	"github.com/shamgpt/shamgpt/engine/scrape"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/gemini"
	"github.com/shamgpt/shamgpt/pkg/metrics"
	"github.com/shamgpt/shamgpt/pkg/natsutil"
)

const vectorDims = gemini.DefaultEmbeddingDims

var met = metrics.New()

func main() {
	var (
		sqlitePath  = flag.String("sqlite", "shamgpt.db", "SQLite database path")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "shamgpt_qa", "Qdrant collection name")
		natsURL     = flag.String("nats", "", "NATS URL for cycle reports (empty disables)")
		loop        = flag.Bool("loop", false, "keep running on the interval")
		interval    = flag.Duration("interval", 6*time.Hour, "cycle interval when looping")
		maxArticles = flag.Int("max", 100, "max articles per cycle")
		metricsPort = flag.Int("metrics-port", 9092, "metrics port when looping")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		logger.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	store, err := canonical.Open(ctx, *sqlitePath)
	if err != nil {
		logger.Error("open canonical store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	index, err := semantic.New(*qdrantAddr, *collection, vectorDims)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		logger.Error("qdrant ensure collection failed", "err", err)
		os.Exit(1)
	}

	embedder, err := gemini.NewEmbedder(ctx, apiKey, gemini.DefaultEmbeddingModel, vectorDims, 2, logger)
	if err != nil {
		logger.Error("gemini embedder failed", "err", err)
		os.Exit(1)
	}
	llm, err := gemini.NewClient(ctx, apiKey, gemini.DefaultModel, logger)
	if err != nil {
		logger.Error("gemini client failed", "err", err)
		os.Exit(1)
	}

	var publish ingest.Publisher
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("shamgpt-ingest"))
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		publish = func(ctx context.Context, report ingest.Report) error {
			return natsutil.Publish(ctx, nc, ingest.Subject, report)
		}
	}

	scraper := scrape.New(scrape.DefaultConfig(), logger)

	opts := ingest.DefaultOptions()
	opts.Interval = *interval
	opts.MaxArticles = *maxArticles
	svc := ingest.New(opts, scraper, llm, embedder, index, store, publish, met, logger)

	if *loop {
		met.ServeAsync(*metricsPort)
		logger.Info("ingest loop starting", "interval", *interval)
		svc.Run(ctx)
		return
	}

	report, err := svc.RunOnce(ctx)
	if err != nil {
		logger.Error("cycle failed", "err", err)
		os.Exit(1)
	}
	logger.Info("cycle complete",
		"articles", report.ArticlesScraped,
		"stored", report.PairsStored,
		"skipped", report.PairsSkipped,
		"errors", len(report.Errors))
}
