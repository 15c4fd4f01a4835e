// Package pipeline orchestrates the ask path: semantic cache lookup over the
// vector index, generation on miss, write-back admission, and async variant
// expansion. It owns the thresholds that decide which of the three answer
// sources a caller sees.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/scrape"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/gemini"
	"github.com/shamgpt/shamgpt/pkg/metrics"
	"github.com/shamgpt/shamgpt/pkg/resilience"
)

// Embedder produces fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// Index is the vector side of the cache.
type Index interface {
	Upsert(ctx context.Context, record semantic.VectorRecord) error
	Search(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]semantic.SearchHit, error)
	DeleteByOrigin(ctx context.Context, qaID string) error
	EnsureCollection(ctx context.Context) error
	CollectionStats(ctx context.Context) (semantic.Stats, error)
}

// Canonical is the relational source of truth for answers.
type Canonical interface {
	Create(ctx context.Context, pair domain.QAPair) error
	Get(ctx context.Context, qaID string) (domain.QAPair, error)
	FindByQuestionText(ctx context.Context, question string) (domain.QAPair, error)
	Ping(ctx context.Context) error
}

// LLM generates answers and question variants.
type LLM interface {
	Answer(ctx context.Context, req gemini.AnswerRequest) (gemini.AnswerResult, error)
	Variants(ctx context.Context, question string, n int) ([]string, error)
	Health(ctx context.Context) error
}

// ContextSource supplies fresh web context for the generation path.
type ContextSource interface {
	ContextFor(ctx context.Context, question string, maxChars int) (string, error)
	Stats() scrape.Stats
}

// Config holds the pipeline thresholds and timeouts.
type Config struct {
	// SearchFloor is the minimum score for a hit to be a candidate.
	SearchFloor float32
	// QualityThreshold is the minimum score for an immediate cache return.
	QualityThreshold float32
	// FallbackFloor is the minimum score usable as a degraded answer.
	FallbackFloor   float32
	TopK            int
	MaxVariants     int
	ContextTimeout  time.Duration
	ContextMaxChars int
	// VariantTimeout bounds the fire-and-forget expansion independently of
	// the caller's deadline.
	VariantTimeout time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SearchFloor:      0.85,
		QualityThreshold: 0.95,
		FallbackFloor:    0.30,
		TopK:             5,
		MaxVariants:      5,
		ContextTimeout:   8 * time.Second,
		ContextMaxChars:  4000,
		VariantTimeout:   60 * time.Second,
	}
}

// Pipeline wires the five components together.
type Pipeline struct {
	cfg     Config
	embed   Embedder
	index   Index
	store   Canonical
	llm     LLM
	web     ContextSource
	breaker *resilience.Breaker
	admits  singleflight.Group
	log     *slog.Logger
	met     *metrics.Registry

	// varWG tracks in-flight variant expansions; tests wait on it.
	varWG sync.WaitGroup
}

// New creates a Pipeline. web may be nil (no context on the miss branch);
// met and logger may be nil.
func New(cfg Config, embed Embedder, index Index, store Canonical, llm LLM, web ContextSource, met *metrics.Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Pipeline{
		cfg:     cfg,
		embed:   embed,
		index:   index,
		store:   store,
		llm:     llm,
		web:     web,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:     logger,
		met:     met,
	}
}

// Metrics exposes the registry for the /metrics handler.
func (p *Pipeline) Metrics() *metrics.Registry { return p.met }

// AskRequest is one question from a caller.
type AskRequest struct {
	Question string
	UserID   string
	Context  string
	Language domain.Language
}

// Ask runs the full decision ladder: cache hit, generation, or fallback.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (domain.PipelineDecision, error) {
	start := time.Now()
	var steps []string
	fail := func(kind domain.Kind, err error) (domain.PipelineDecision, error) {
		p.countAsk(domain.TagError)
		return domain.PipelineDecision{SourceTag: domain.TagError, Steps: steps, ElapsedMS: time.Since(start).Milliseconds()},
			domain.NewPipelineError(kind, err)
	}

	normalized := domain.NormalizeQuestion(req.Question)
	if normalized == "" {
		return fail(domain.KindValidation, domain.NewValidationError("question", req.Question, domain.ErrEmptyQuestion))
	}
	steps = append(steps, domain.StepInputNormalized)
	language := domain.DetectLanguage(normalized, req.Language)

	embedding, err := p.embed.Embed(ctx, normalized)
	if err != nil {
		if domain.IsCancelled(err) {
			return fail(domain.KindCancelled, err)
		}
		return fail(domain.KindEmbedding, domain.Classify(err))
	}
	steps = append(steps, domain.StepEmbeddingGenerated)

	hits, err := p.index.Search(ctx, embedding, p.cfg.TopK, p.cfg.SearchFloor, nil)
	if err != nil {
		// A dead index is survivable: proceed as a miss.
		p.log.Warn("vector search failed, treating as miss", "err", err)
		hits = nil
	}
	if len(hits) > 0 {
		steps = append(steps, domain.StepSearchHit)
	} else {
		steps = append(steps, domain.StepSearchMiss)
	}

	if len(hits) > 0 && hits[0].Score >= p.cfg.QualityThreshold {
		pair, err := p.store.Get(ctx, hits[0].QAID)
		if err == nil {
			p.countAsk(domain.TagVectorHit)
			return domain.PipelineDecision{
				Answer:     pair.AnswerText,
				Confidence: float64(hits[0].Score),
				SourceTag:  domain.TagVectorHit,
				Steps:      steps,
				ElapsedMS:  time.Since(start).Milliseconds(),
				Metadata: map[string]any{
					"qa_id":            pair.ID,
					"matched_question": hits[0].Question,
					"language":         string(pair.Language),
				},
			}, nil
		}
		// Dangling pointer: the index referenced a pair the canonical
		// store no longer has. Continue as a miss.
		p.log.Warn("dangling vector hit", "qa_id", hits[0].QAID, "err", err)
	}

	webCtx, fetched := p.fetchContext(ctx, normalized)
	if fetched {
		steps = append(steps, domain.StepWebContextFetched)
	}
	if webCtx == "" {
		webCtx = req.Context
	}
	prior := p.hydratePrior(ctx, hits)

	var result gemini.AnswerResult
	genErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := p.llm.Answer(ctx, gemini.AnswerRequest{
			Question:   normalized,
			Context:    webCtx,
			PriorPairs: prior,
			Language:   language,
		})
		result = r
		return err
	})

	if genErr != nil {
		steps = append(steps, domain.StepLLMFailed)
		return p.fallback(ctx, steps, start, hits, genErr)
	}
	steps = append(steps, domain.StepLLMOk)

	metadata := map[string]any{
		"model":    result.Model,
		"language": string(result.Language),
	}
	if len(result.Keywords) > 0 {
		metadata["keywords"] = result.Keywords
	}

	pair, admitErr := p.admit(ctx, admitInput{
		question:   normalized,
		answer:     result.Answer,
		embedding:  embedding,
		confidence: result.Confidence,
		language:   result.Language,
		userID:     req.UserID,
	})
	if admitErr != nil {
		// Storage failure never turns a generated answer into an error.
		p.log.Error("admission failed", "question", normalized, "err", admitErr)
		steps = append(steps, domain.StepAdmitSkipped)
		metadata["persisted"] = false
	} else {
		steps = append(steps, domain.StepAdmitted)
		metadata["qa_id"] = pair.ID
		p.scheduleVariants(pair.ID, normalized, req.UserID)
		steps = append(steps, domain.StepVariantsScheduled)
	}

	p.countAsk(domain.TagGenerated)
	return domain.PipelineDecision{
		Answer:     result.Answer,
		Confidence: result.Confidence,
		SourceTag:  domain.TagGenerated,
		Steps:      steps,
		ElapsedMS:  time.Since(start).Milliseconds(),
		Metadata:   metadata,
	}, nil
}

// fetchContext asks the web source for context, giving up after the soft
// timeout. The fetch goroutine is left to finish on its own.
func (p *Pipeline) fetchContext(ctx context.Context, question string) (string, bool) {
	if p.web == nil {
		return "", false
	}
	type fetched struct {
		text string
		err  error
	}
	ch := make(chan fetched, 1)
	go func() {
		text, err := p.web.ContextFor(ctx, question, p.cfg.ContextMaxChars)
		ch <- fetched{text: text, err: err}
	}()

	timer := time.NewTimer(p.cfg.ContextTimeout)
	defer timer.Stop()
	select {
	case f := <-ch:
		if f.err != nil {
			p.log.Warn("web context fetch failed", "err", f.err)
			return "", false
		}
		return f.text, f.text != ""
	case <-timer.C:
		p.log.Warn("web context fetch timed out", "timeout", p.cfg.ContextTimeout)
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// hydratePrior joins up to three search hits with their canonical pairs for
// prompt context. Misses are skipped.
func (p *Pipeline) hydratePrior(ctx context.Context, hits []semantic.SearchHit) []domain.QAPair {
	var prior []domain.QAPair
	seen := map[string]bool{}
	for _, hit := range hits {
		if len(prior) == 3 {
			break
		}
		if hit.QAID == "" || seen[hit.QAID] {
			continue
		}
		seen[hit.QAID] = true
		pair, err := p.store.Get(ctx, hit.QAID)
		if err != nil {
			continue
		}
		prior = append(prior, pair)
	}
	return prior
}

// fallback serves the best sub-quality hit when generation failed, or
// surfaces the terminal error when none clears the floor.
func (p *Pipeline) fallback(ctx context.Context, steps []string, start time.Time, hits []semantic.SearchHit, genErr error) (domain.PipelineDecision, error) {
	for _, hit := range hits {
		if hit.Score < p.cfg.FallbackFloor {
			break
		}
		pair, err := p.store.Get(ctx, hit.QAID)
		if err != nil {
			continue
		}
		p.countAsk(domain.TagVectorFallback)
		return domain.PipelineDecision{
			Answer:     pair.AnswerText,
			Confidence: float64(hit.Score),
			SourceTag:  domain.TagVectorFallback,
			Steps:      steps,
			ElapsedMS:  time.Since(start).Milliseconds(),
			Metadata: map[string]any{
				"qa_id":     pair.ID,
				"llm_error": errorDetail(genErr),
				"warning":   string(domain.KindDegradedAnswer),
			},
		}, nil
	}

	p.countAsk(domain.TagError)
	kind := domain.KindGeneration
	if domain.IsCancelled(genErr) {
		kind = domain.KindCancelled
	}
	return domain.PipelineDecision{SourceTag: domain.TagError, Steps: steps, ElapsedMS: time.Since(start).Milliseconds()},
		domain.NewPipelineError(kind, domain.Classify(genErr))
}

// FindSimilar returns up to limit cached pairs similar to the question,
// using a lower floor than the answer cache.
func (p *Pipeline) FindSimilar(ctx context.Context, question string, limit int) ([]domain.SimilarPair, error) {
	normalized := domain.NormalizeQuestion(question)
	if normalized == "" {
		return nil, domain.NewPipelineError(domain.KindValidation,
			domain.NewValidationError("question", question, domain.ErrEmptyQuestion))
	}
	if limit <= 0 {
		limit = 5
	}

	embedding, err := p.embed.Embed(ctx, normalized)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindEmbedding, domain.Classify(err))
	}

	hits, err := p.index.Search(ctx, embedding, limit*2, similarFloor, nil)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindVectorSearch, domain.Classify(err))
	}

	var similar []domain.SimilarPair
	seen := map[string]bool{}
	for _, hit := range hits {
		if len(similar) == limit {
			break
		}
		if hit.QAID == "" || seen[hit.QAID] {
			continue
		}
		seen[hit.QAID] = true
		pair, err := p.store.Get(ctx, hit.QAID)
		if err != nil {
			continue
		}
		similar = append(similar, domain.SimilarPair{
			Question:   pair.QuestionText,
			Answer:     pair.AnswerText,
			Score:      hit.Score,
			Confidence: pair.Confidence,
			Source:     pair.Source,
			CreatedAt:  pair.CreatedAt,
		})
	}
	return similar, nil
}

// similarFloor is looser than the cache floor: FindSimilar is exploratory.
const similarFloor = float32(0.7)

func (p *Pipeline) countAsk(source string) {
	p.met.Counter(metrics.WithLabels("shamgpt_ask_total", "source", source), "Ask decisions by source").Inc()
}

func errorDetail(err error) string {
	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "llm_circuit_open"
	case errors.Is(err, domain.ErrQuotaExhausted):
		return "quota_exhausted"
	default:
		return fmt.Sprintf("%v", domain.Classify(err))
	}
}
