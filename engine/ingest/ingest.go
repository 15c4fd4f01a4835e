// Package ingest runs the periodic news cycle: scrape the configured
// sources, extract Q&A pairs from each article, and admit the new ones into
// the canonical store and the vector index. Pairs are keyed by content, so
// re-running a cycle over the same news is a no-op.
package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/scrape"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/gemini"
	"github.com/shamgpt/shamgpt/pkg/metrics"
)

// Fetcher scrapes the news sources.
type Fetcher interface {
	FetchAll(ctx context.Context) scrape.FetchResult
}

// Extractor turns an article into Q&A pairs.
type Extractor interface {
	QAFromArticle(ctx context.Context, article domain.Article) ([]gemini.ExtractedPair, error)
}

// Embedder produces vectors for extracted questions.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector side of the cache.
type Index interface {
	UpsertBatch(ctx context.Context, records []semantic.VectorRecord) error
}

// Store is the canonical side.
type Store interface {
	Create(ctx context.Context, pair domain.QAPair) error
	UpdateMetadata(ctx context.Context, qaID string, patch map[string]any) error
}

// Publisher receives the cycle report; nil disables publishing.
type Publisher func(ctx context.Context, report Report) error

// Service drives the ingestion cycles.
type Service struct {
	opts    Options
	fetch   Fetcher
	extract Extractor
	embed   Embedder
	index   Index
	store   Store
	publish Publisher
	log     *slog.Logger
	met     *metrics.Registry

	running atomic.Bool
}

// New creates a Service. publish, met, and logger may be nil.
func New(opts Options, fetch Fetcher, extract Extractor, embed Embedder, index Index, store Store, publish Publisher, met *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Service{
		opts:    opts,
		fetch:   fetch,
		extract: extract,
		embed:   embed,
		index:   index,
		store:   store,
		publish: publish,
		log:     logger,
		met:     met,
	}
}

// Run executes cycles on the configured interval until ctx is cancelled.
// A tick that fires while the previous cycle is still running is dropped.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Warn("scheduled ingest cycle skipped", "err", err)
			}
		}
	}
}

// RunOnce executes a single cycle. At most one cycle runs at a time;
// concurrent callers get ErrBusy.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer s.running.Store(false)

	start := time.Now()
	report := Report{StartedAt: start.UTC(), PerSource: map[string]int{}}

	fetched := s.fetch.FetchAll(ctx)
	report.ArticlesScraped = len(fetched.Articles)
	report.Errors = append(report.Errors, fetched.Errors...)

	articles := fetched.Articles
	if s.opts.MaxArticles > 0 && len(articles) > s.opts.MaxArticles {
		articles = articles[:s.opts.MaxArticles]
	}

	for _, article := range articles {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, "cycle cancelled: "+ctx.Err().Error())
			break
		}
		out := s.processArticle(ctx, article)
		report.PairsGenerated += out.generated
		report.PairsStored += out.stored
		report.PairsSkipped += out.skipped
		report.Errors = append(report.Errors, out.errs...)
		if out.stored > 0 {
			report.PerSource[article.SourceName] += out.stored
		}
	}
	report.ElapsedMS = time.Since(start).Milliseconds()

	s.met.Counter("shamgpt_ingest_cycles_total", "Ingestion cycles completed").Inc()
	s.met.Counter(metrics.WithLabels("shamgpt_ingest_pairs_total", "outcome", "stored"), "Extracted pairs by outcome").Add(int64(report.PairsStored))
	s.met.Counter(metrics.WithLabels("shamgpt_ingest_pairs_total", "outcome", "skipped"), "Extracted pairs by outcome").Add(int64(report.PairsSkipped))

	s.log.Info("ingest cycle finished",
		"articles", report.ArticlesScraped,
		"generated", report.PairsGenerated,
		"stored", report.PairsStored,
		"skipped", report.PairsSkipped,
		"errors", len(report.Errors),
		"elapsed_ms", report.ElapsedMS)

	if s.publish != nil {
		if err := s.publish(ctx, report); err != nil {
			s.log.Warn("report publish failed", "err", err)
		}
	}
	return report, nil
}
