package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"testing"
	"time"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/scrape"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/gemini"
)

// --- Mocks ---

type mockEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

// vecFor derives a deterministic vector from the text, so equal questions
// embed equally.
func vecFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return vecFor(text), nil
}

func (m *mockEmbedder) Dims() int { return 4 }

type memIndex struct {
	mu        sync.Mutex
	records   map[string]semantic.VectorRecord
	hits      []semantic.SearchHit // canned; overrides record matching
	searchErr error
	upsertErr error
}

func newMemIndex() *memIndex {
	return &memIndex{records: map[string]semantic.VectorRecord{}}
}

func (m *memIndex) Upsert(_ context.Context, record semantic.VectorRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

func (m *memIndex) Search(_ context.Context, embedding []float32, _ int, minScore float32, _ map[string]any) ([]semantic.SearchHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hits != nil {
		var out []semantic.SearchHit
		for _, h := range m.hits {
			if h.Score >= minScore {
				out = append(out, h)
			}
		}
		return out, nil
	}

	// Exact embedding match scores 1.0; everything else misses.
	var out []semantic.SearchHit
	for _, rec := range m.records {
		if !vecEqual(rec.Embedding, embedding) {
			continue
		}
		hit := semantic.SearchHit{PointID: rec.ID, Score: 1.0}
		if v, ok := rec.Payload[semantic.KeyQAID].(string); ok {
			hit.QAID = v
		}
		if v, ok := rec.Payload[semantic.KeyQuestion].(string); ok {
			hit.Question = v
		}
		if v, ok := rec.Payload[semantic.KeyIsVariant].(bool); ok {
			hit.IsVariant = v
		}
		out = append(out, hit)
	}
	return out, nil
}

func (m *memIndex) DeleteByOrigin(_ context.Context, qaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if v, ok := rec.Payload[semantic.KeyOriginQAID].(string); ok && v == qaID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memIndex) EnsureCollection(context.Context) error { return nil }
func (m *memIndex) CollectionStats(context.Context) (semantic.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return semantic.Stats{PointsTotal: uint64(len(m.records)), Connected: true}, nil
}

func (m *memIndex) countVariants() (canonical, variants int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if v, ok := rec.Payload[semantic.KeyIsVariant].(bool); ok && v {
			variants++
		} else {
			canonical++
		}
	}
	return
}

func vecEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type memStore struct {
	mu         sync.Mutex
	pairs      map[string]domain.QAPair
	byQuestion map[string]string
	createErr  error
	creates    int
}

func newMemStore() *memStore {
	return &memStore{pairs: map[string]domain.QAPair{}, byQuestion: map[string]string{}}
}

func (m *memStore) Create(_ context.Context, pair domain.QAPair) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[pair.ID]; ok {
		return domain.ErrDuplicateID
	}
	if _, ok := m.byQuestion[pair.QuestionText]; ok {
		return domain.ErrConflict
	}
	m.creates++
	m.pairs[pair.ID] = pair
	m.byQuestion[pair.QuestionText] = pair.ID
	return nil
}

func (m *memStore) Get(_ context.Context, qaID string) (domain.QAPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.pairs[qaID]
	if !ok {
		return domain.QAPair{}, domain.ErrNotFound
	}
	return pair, nil
}

func (m *memStore) FindByQuestionText(_ context.Context, question string) (domain.QAPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byQuestion[question]
	if !ok {
		return domain.QAPair{}, domain.ErrNotFound
	}
	return m.pairs[id], nil
}

func (m *memStore) Ping(context.Context) error { return nil }

type mockLLM struct {
	mu          sync.Mutex
	answer      string
	answerErr   error
	variants    []string
	variantsErr error
	healthErr   error
	answerCalls int
}

func (m *mockLLM) Answer(_ context.Context, req gemini.AnswerRequest) (gemini.AnswerResult, error) {
	m.mu.Lock()
	m.answerCalls++
	m.mu.Unlock()
	if m.answerErr != nil {
		return gemini.AnswerResult{}, m.answerErr
	}
	return gemini.AnswerResult{
		Answer:     m.answer,
		Confidence: 0.9,
		Language:   domain.LangArabic,
		Model:      "test-model",
	}, nil
}

func (m *mockLLM) Variants(_ context.Context, _ string, n int) ([]string, error) {
	if m.variantsErr != nil {
		return nil, m.variantsErr
	}
	if len(m.variants) > n {
		return m.variants[:n], nil
	}
	return m.variants, nil
}

func (m *mockLLM) Health(context.Context) error { return m.healthErr }

type mockWeb struct {
	text  string
	err   error
	delay time.Duration
}

func (m *mockWeb) ContextFor(ctx context.Context, _ string, _ int) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.text, m.err
}

func (m *mockWeb) Stats() scrape.Stats { return scrape.Stats{} }

type fixture struct {
	p     *Pipeline
	embed *mockEmbedder
	index *memIndex
	store *memStore
	llm   *mockLLM
	web   *mockWeb
}

func newFixture() *fixture {
	f := &fixture{
		embed: &mockEmbedder{},
		index: newMemIndex(),
		store: newMemStore(),
		llm:   &mockLLM{answer: "دمشق هي عاصمة سوريا.", variants: []string{"أين تقع عاصمة سوريا؟", "ما عاصمة سوريا؟"}},
		web:   &mockWeb{text: "سياق من الويب"},
	}
	cfg := DefaultConfig()
	cfg.ContextTimeout = 100 * time.Millisecond
	f.p = New(cfg, f.embed, f.index, f.store, f.llm, f.web, nil, nil)
	return f
}

// --- Tests ---

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture()
	_, err := f.p.Ask(context.Background(), AskRequest{Question: "   "})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("kind = %q, err = %v", domain.KindOf(err), err)
	}
	if f.embed.calls != 0 {
		t.Error("validation failure should happen before any I/O")
	}
}

func TestAskColdMissThenWarmHit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.p.Ask(ctx, AskRequest{Question: "ما هي عاصمة سوريا"})
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if first.SourceTag != domain.TagGenerated {
		t.Fatalf("first source = %q", first.SourceTag)
	}
	if first.Answer != "دمشق هي عاصمة سوريا." {
		t.Errorf("answer = %q", first.Answer)
	}
	f.p.varWG.Wait()

	second, err := f.p.Ask(ctx, AskRequest{Question: "ما هي عاصمة سوريا"})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if second.SourceTag != domain.TagVectorHit {
		t.Fatalf("second source = %q", second.SourceTag)
	}
	if second.Answer != first.Answer {
		t.Errorf("warm hit answer diverged: %q", second.Answer)
	}
	if second.Confidence < float64(f.p.cfg.QualityThreshold) {
		t.Errorf("warm hit confidence = %v", second.Confidence)
	}
	if f.llm.answerCalls != 1 {
		t.Errorf("llm called %d times, want 1", f.llm.answerCalls)
	}
}

func TestAskStepsOrdered(t *testing.T) {
	f := newFixture()
	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال جديد"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	f.p.varWG.Wait()

	want := []string{
		domain.StepInputNormalized,
		domain.StepEmbeddingGenerated,
		domain.StepSearchMiss,
		domain.StepWebContextFetched,
		domain.StepLLMOk,
		domain.StepAdmitted,
		domain.StepVariantsScheduled,
	}
	if len(decision.Steps) != len(want) {
		t.Fatalf("steps = %v", decision.Steps)
	}
	for i := range want {
		if decision.Steps[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, decision.Steps[i], want[i])
		}
	}
}

func TestAskVariantsIndexed(t *testing.T) {
	f := newFixture()
	if _, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال للتوسيع"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	f.p.varWG.Wait()

	canonical, variants := f.index.countVariants()
	if canonical != 1 {
		t.Errorf("canonical points = %d", canonical)
	}
	if variants != 2 {
		t.Errorf("variant points = %d", variants)
	}
}

func TestAskVariantHitReturnsOrigin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.p.Ask(ctx, AskRequest{Question: "ما هي عاصمة سوريا"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	f.p.varWG.Wait()

	got, err := f.p.Ask(ctx, AskRequest{Question: "أين تقع عاصمة سوريا"})
	if err != nil {
		t.Fatalf("variant ask: %v", err)
	}
	if got.SourceTag != domain.TagVectorHit {
		t.Fatalf("source = %q", got.SourceTag)
	}
	if got.Answer != "دمشق هي عاصمة سوريا." {
		t.Errorf("answer = %q", got.Answer)
	}
}

func TestAskDanglingHitFallsThroughToGeneration(t *testing.T) {
	f := newFixture()
	f.index.hits = []semantic.SearchHit{{PointID: "p", QAID: "missing-qa", Score: 0.99}}

	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if decision.SourceTag != domain.TagGenerated {
		t.Fatalf("source = %q, want generated after dangling hit", decision.SourceTag)
	}
}

func TestAskSearchFailureTreatedAsMiss(t *testing.T) {
	f := newFixture()
	f.index.searchErr = errors.New("qdrant down")

	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if decision.SourceTag != domain.TagGenerated {
		t.Fatalf("source = %q", decision.SourceTag)
	}
}

func TestAskEmbeddingFailure(t *testing.T) {
	f := newFixture()
	f.embed.err = errors.New("embedder down")

	_, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if domain.KindOf(err) != domain.KindEmbedding {
		t.Fatalf("kind = %q", domain.KindOf(err))
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("unknown embed error not promoted: %v", err)
	}
}

func TestAskLLMFailureWithFallbackHit(t *testing.T) {
	f := newFixture()
	pair := domain.QAPair{ID: "qa-f", QuestionText: "سؤال قريب؟", AnswerText: "جواب قديم.", Source: domain.SourceGenerated}
	f.store.pairs["qa-f"] = pair
	f.store.byQuestion[pair.QuestionText] = "qa-f"
	f.llm.answerErr = domain.ErrQuotaExhausted

	// Above the search floor, below the quality threshold.
	f.index.hits = []semantic.SearchHit{{PointID: "p", QAID: "qa-f", Score: 0.86}}

	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if decision.SourceTag != domain.TagVectorFallback {
		t.Fatalf("source = %q", decision.SourceTag)
	}
	if decision.Answer != "جواب قديم." {
		t.Errorf("answer = %q", decision.Answer)
	}
	if decision.Confidence != float64(float32(0.86)) {
		t.Errorf("confidence = %v", decision.Confidence)
	}
	if decision.Metadata["llm_error"] == "" {
		t.Error("missing llm_error metadata")
	}
}

func TestAskLLMFailureNoFallback(t *testing.T) {
	f := newFixture()
	f.llm.answerErr = domain.ErrQuotaExhausted

	_, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if domain.KindOf(err) != domain.KindGeneration {
		t.Fatalf("kind = %q, err = %v", domain.KindOf(err), err)
	}
	if !errors.Is(err, domain.ErrQuotaExhausted) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestAskStorageFailureStillReturnsAnswer(t *testing.T) {
	f := newFixture()
	f.store.createErr = errors.New("disk full")

	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if err != nil {
		t.Fatalf("storage failure must not fail the ask: %v", err)
	}
	if decision.SourceTag != domain.TagGenerated {
		t.Fatalf("source = %q", decision.SourceTag)
	}
	if decision.Metadata["persisted"] != false {
		t.Errorf("metadata = %v", decision.Metadata)
	}
	hasSkip := false
	for _, s := range decision.Steps {
		if s == domain.StepAdmitSkipped {
			hasSkip = true
		}
		if s == domain.StepVariantsScheduled {
			t.Error("variants scheduled for unpersisted pair")
		}
	}
	if !hasSkip {
		t.Errorf("steps = %v", decision.Steps)
	}
}

func TestAskConcurrentAdmitCollapses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const callers = 30
	answers := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision, err := f.p.Ask(ctx, AskRequest{Question: "من هو الرئيس"})
			if err != nil {
				t.Errorf("ask %d: %v", i, err)
				return
			}
			answers[i] = decision.Answer
		}(i)
	}
	wg.Wait()
	f.p.varWG.Wait()

	if f.store.creates != 1 {
		t.Errorf("creates = %d, want exactly 1", f.store.creates)
	}
	canonical, _ := f.index.countVariants()
	if canonical != 1 {
		t.Errorf("canonical points = %d, want 1", canonical)
	}
	for i, a := range answers {
		if a != answers[0] {
			t.Fatalf("answer %d diverged: %q vs %q", i, a, answers[0])
		}
	}
}

func TestAskContextTimeoutProceedsWithoutContext(t *testing.T) {
	f := newFixture()
	f.web.delay = time.Second
	f.p.cfg.ContextTimeout = 10 * time.Millisecond

	decision, err := f.p.Ask(context.Background(), AskRequest{Question: "سؤال؟"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if decision.SourceTag != domain.TagGenerated {
		t.Fatalf("source = %q", decision.SourceTag)
	}
	for _, s := range decision.Steps {
		if s == domain.StepWebContextFetched {
			t.Error("context step recorded despite timeout")
		}
	}
}

func TestFindSimilar(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.p.Ask(ctx, AskRequest{Question: "ما هي عاصمة سوريا"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	f.p.varWG.Wait()

	similar, err := f.p.FindSimilar(ctx, "ما هي عاصمة سوريا", 5)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("got %d similar pairs", len(similar))
	}
	if similar[0].Answer != "دمشق هي عاصمة سوريا." {
		t.Errorf("answer = %q", similar[0].Answer)
	}
}

func TestExpandVariantsAdmitsUnknownPair(t *testing.T) {
	f := newFixture()
	got, err := f.p.ExpandVariants(context.Background(), "سؤال يدوي", "جواب يدوي.", "user-1")
	if err != nil {
		t.Fatalf("ExpandVariants: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("variants = %v", got)
	}
	if _, err := f.store.FindByQuestionText(context.Background(), "سؤال يدوي؟"); err != nil {
		t.Errorf("pair not admitted: %v", err)
	}
	_, variants := f.index.countVariants()
	if variants != 2 {
		t.Errorf("variant points = %d", variants)
	}
}

func TestHealthDegradedOnLLMOutage(t *testing.T) {
	f := newFixture()
	f.llm.healthErr = errors.New("llm down")

	report := f.p.Health(context.Background())
	if !report.Initialized {
		t.Error("llm outage must not fail initialization")
	}
	if !report.Degraded {
		t.Error("report should be degraded")
	}
	if report.Components["llm"].Status != statusUnhealthy {
		t.Errorf("llm status = %+v", report.Components["llm"])
	}
	if report.Components["vector_index"].Status != statusHealthy {
		t.Errorf("vector status = %+v", report.Components["vector_index"])
	}
}

func TestInit(t *testing.T) {
	f := newFixture()
	if err := f.p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f.llm.healthErr = errors.New("llm down")
	if err := f.p.Init(context.Background()); err != nil {
		t.Fatalf("llm outage must not fail init: %v", err)
	}
}
