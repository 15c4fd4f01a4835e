// Package gemini wraps the Gemini API behind two small clients: an Embedder
// for vector generation and a Client for answer generation, question
// variants, and article Q&A extraction.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/pkg/resilience"
)

const (
	// DefaultModel is the generation model.
	DefaultModel = "gemini-2.0-flash"
	// DefaultEmbeddingModel produces the vectors for the semantic index.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDims is the Matryoshka output dimension.
	DefaultEmbeddingDims = 768

	maxPriorPairs     = 3
	maxArticleChars   = 2000
	extractionMaxToks = 2000
	extractionTemp    = float32(0.7)

	// requestsPerMinute matches the free-tier generation quota.
	requestsPerMinute = 15
)

// generator is the slice of the genai SDK the client uses. Narrowed so
// tests can swap in a canned implementation.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type genaiModels struct{ client *genai.Client }

func (g genaiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, config)
}

// Client generates answers, question variants, and article extractions.
// Calls are paced by a token bucket so bursts of misses do not burn the
// generation quota; nil limiter disables pacing.
type Client struct {
	models  generator
	model   string
	limiter *resilience.Limiter
	log     *slog.Logger
}

// NewClient creates a Gemini generation client.
func NewClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	limiter := resilience.NewLimiter(resilience.LimiterOpts{
		Rate:  float64(requestsPerMinute) / 60,
		Burst: requestsPerMinute,
	})
	return &Client{models: genaiModels{client: gc}, model: model, limiter: limiter, log: logger}, nil
}

// AnswerRequest is one generation call on the miss branch.
type AnswerRequest struct {
	Question   string
	Context    string
	PriorPairs []domain.QAPair
	Language   domain.Language
}

// AnswerResult carries the generated answer plus derived metadata.
type AnswerResult struct {
	Answer     string
	Confidence float64
	Keywords   []string
	Language   domain.Language
	Model      string
	Elapsed    time.Duration
}

// Answer generates an answer for the question, grounded on the supplied web
// context and prior pairs. Confidence and keywords are derived locally so
// repeated calls on the same text agree.
func (c *Client) Answer(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	start := time.Now()
	prompt := answerPrompt(req.Question, req.Context, req.PriorPairs)

	text, err := c.generate(ctx, prompt, nil)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("gemini: answer: %w", err)
	}

	answer := strings.TrimSpace(text)
	return AnswerResult{
		Answer:     answer,
		Confidence: Confidence(answer, req.Question),
		Keywords:   Keywords(answer),
		Language:   domain.DetectLanguage(answer, req.Language),
		Model:      c.model,
		Elapsed:    time.Since(start),
	}, nil
}

// Variants generates up to n paraphrases of the question. The model is
// asked for a JSON list; a line-by-line fallback handles prose responses.
func (c *Client) Variants(ctx context.Context, question string, n int) ([]string, error) {
	text, err := c.generate(ctx, variantsPrompt(question, n), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: variants: %w", err)
	}

	variants := parseVariants(text, n)
	if len(variants) == 0 {
		return nil, fmt.Errorf("gemini: variants: %w", domain.ErrMalformed)
	}
	return variants, nil
}

// ExtractedPair is one question/answer produced from a news article.
type ExtractedPair struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
}

// QAFromArticle extracts 3-5 question/answer pairs from a scraped article.
// A non-JSON response is a malformed-output error, not a crash.
func (c *Client) QAFromArticle(ctx context.Context, article domain.Article) ([]ExtractedPair, error) {
	temp := extractionTemp
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		MaxOutputTokens:  extractionMaxToks,
		ResponseMIMEType: "application/json",
	}
	text, err := c.generate(ctx, extractionPrompt(article.Title, truncateRunes(article.Content, maxArticleChars)), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: extract qa: %w", err)
	}

	var payload struct {
		QAPairs []ExtractedPair `json:"qa_pairs"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		return nil, fmt.Errorf("gemini: extract qa: parse response: %w", domain.ErrMalformed)
	}

	pairs := make([]ExtractedPair, 0, len(payload.QAPairs))
	for _, p := range payload.QAPairs {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		if p.Question == "" || p.Answer == "" {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// Health probes the model with a minimal generation call.
func (c *Client) Health(ctx context.Context) error {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: 8}
	if _, err := c.generate(ctx, "مرحبا", cfg); err != nil {
		return fmt.Errorf("gemini: health: %w", err)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", mapGenerateErr(err)
	}

	text := resp.Text()
	if text == "" {
		if blockedBySafety(resp) {
			return "", domain.ErrSafetyBlocked
		}
		return "", fmt.Errorf("empty response: %w", domain.ErrMalformed)
	}
	return text, nil
}

// mapGenerateErr converts transport-level failures into domain sentinels.
// The SDK surfaces quota exhaustion as a 429 APIError.
func mapGenerateErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%s: %w", msg, domain.ErrQuotaExhausted)
	}
	return err
}

func blockedBySafety(resp *genai.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return true
		}
	}
	return false
}

// parseVariants first tries the requested JSON list, then falls back to
// splitting lines and stripping numbering and quotes.
func parseVariants(text string, n int) []string {
	trimmed := strings.TrimSpace(stripFences(text))
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var list []string
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			return clipVariants(list, n)
		}
	}

	var variants []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "]") {
			continue
		}
		line = stripListDecoration(line)
		if line != "" {
			variants = append(variants, line)
		}
	}
	return clipVariants(variants, n)
}

func clipVariants(variants []string, n int) []string {
	out := variants[:0]
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// stripListDecoration removes leading numbering ("1. ", "2) ") and
// surrounding quotes from a variant line.
func stripListDecoration(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		line = strings.TrimSpace(line[i+1:])
	}
	line = strings.Trim(line, `"'`)
	line = strings.TrimSuffix(strings.TrimSpace(line), ",")
	return strings.Trim(line, `"'`)
}

// stripFences removes a markdown code fence wrapper if present.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
