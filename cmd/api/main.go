// Package main implements the ShamGPT API server: the ask endpoint over the
// semantic cache, similarity lookup, variant expansion, and the ingestion
// trigger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shamgpt/shamgpt/engine/canonical"
	"github.com/shamgpt/shamgpt/engine/ingest"
	"github.com/shamgpt/shamgpt/engine/pipeline"
	"github.com/shamgpt/shamgpt/engine/scrape"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/gemini"
	"github.com/shamgpt/shamgpt/pkg/metrics"
	"github.com/shamgpt/shamgpt/pkg/mid"
	"github.com/shamgpt/shamgpt/pkg/natsutil"
)

const vectorDims = gemini.DefaultEmbeddingDims

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	QdrantURL      string
	Collection     string
	SQLitePath     string
	GeminiAPIKey   string
	GeminiModel    string
	EmbedModel     string
	EmbedRPS       float64
	NATSURL        string
	CORSOrigin     string
	IngestInterval time.Duration
	IngestEnabled  bool
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "shamgpt_qa"),
		SQLitePath:     envOr("SQLITE_PATH", "shamgpt.db"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    envOr("GEMINI_MODEL", gemini.DefaultModel),
		EmbedModel:     envOr("GEMINI_EMBED_MODEL", gemini.DefaultEmbeddingModel),
		EmbedRPS:       envFloat("EMBED_RPS", 2),
		NATSURL:        os.Getenv("NATS_URL"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		IngestInterval: envDuration("INGEST_INTERVAL", 6*time.Hour),
		IngestEnabled:  envOr("INGEST_ENABLED", "true") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}

	met := metrics.New()

	// --- Canonical store (SQLite) ---
	store, err := canonical.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open canonical store: %w", err)
	}
	defer store.Close()

	// --- Vector index (Qdrant) ---
	index, err := semantic.New(cfg.QdrantURL, cfg.Collection, vectorDims)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer index.Close()

	// --- Gemini ---
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel, vectorDims, cfg.EmbedRPS, logger)
	if err != nil {
		return fmt.Errorf("gemini embedder: %w", err)
	}
	llm, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	// --- Web scraper ---
	scraper := scrape.New(scrape.DefaultConfig(), logger)

	// --- Pipeline ---
	pipe := pipeline.New(pipeline.DefaultConfig(), embedder, index, store, llm, scraper, met, logger)
	if err := pipe.Init(ctx); err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	// --- Ingestion service ---
	var publish ingest.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("shamgpt-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		publish = func(ctx context.Context, report ingest.Report) error {
			return natsutil.Publish(ctx, nc, ingest.Subject, report)
		}
		logger.Info("publishing ingest reports", "subject", ingest.Subject)
	}

	ingOpts := ingest.DefaultOptions()
	ingOpts.Interval = cfg.IngestInterval
	ing := ingest.New(ingOpts, scraper, llm, embedder, index, store, publish, met, logger)
	if cfg.IngestEnabled {
		go ing.Run(ctx)
		logger.Info("ingest loop started", "interval", cfg.IngestInterval)
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", handleAsk(pipe, logger))
	mux.HandleFunc("GET /api/similar", handleSimilar(pipe))
	mux.HandleFunc("POST /api/variants", handleVariants(pipe))
	mux.HandleFunc("POST /api/ingest", handleIngest(ing, logger))
	mux.HandleFunc("GET /api/recent", handleRecent(store))
	mux.HandleFunc("DELETE /api/qa/{id}", handleDelete(store, index, logger))
	mux.HandleFunc("GET /api/health", handleHealth(pipe))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("shamgpt-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
