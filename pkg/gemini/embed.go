package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/shamgpt/shamgpt/engine/domain"
)

const (
	// maxEmbedChars rejects oversize texts; callers truncate before
	// embedding.
	maxEmbedChars = 8000
	// embedBatchSize is the sub-batch size for EmbedBatch.
	embedBatchSize = 16
)

// embedCaller is the slice of the genai SDK the embedder uses.
type embedCaller interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type genaiEmbed struct{ client *genai.Client }

func (g genaiEmbed) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return g.client.Models.EmbedContent(ctx, model, contents, config)
}

// Embedder produces fixed-dimension embeddings for questions and variants.
type Embedder struct {
	caller  embedCaller
	model   string
	dims    int
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewEmbedder creates a Gemini embedder with a fixed output dimension.
// reqPerSec paces sub-batches in EmbedBatch; zero means unpaced.
func NewEmbedder(ctx context.Context, apiKey, model string, dims int, reqPerSec float64, logger *slog.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}
	if logger == nil {
		logger = slog.Default()
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create embed client: %w", err)
	}

	limit := rate.Inf
	if reqPerSec > 0 {
		limit = rate.Limit(reqPerSec)
	}
	return &Embedder{
		caller:  genaiEmbed{client: gc},
		model:   model,
		dims:    dims,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
	}, nil
}

// Dims returns the fixed embedding dimension.
func (e *Embedder) Dims() int { return e.dims }

// Embed returns the embedding for one text. Oversize input fails with
// domain.ErrOversize.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, splitting into paced sub-batches. Any
// sub-batch failure fails the whole call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("gemini: embed [%d]: %w", i, domain.ErrEmptyQuestion)
		}
		if len(text) > maxEmbedChars {
			return nil, fmt.Errorf("gemini: embed [%d]: %d chars: %w", i, len(text), domain.ErrOversize)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("gemini: embed batch: %w", err)
		}

		vecs, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("gemini: embed batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}
	dims := int32(e.dims)
	resp, err := e.caller.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, mapGenerateErr(err)
	}
	if resp == nil {
		return nil, fmt.Errorf("nil response: %w", domain.ErrMalformed)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts: %w",
			len(resp.Embeddings), len(texts), domain.ErrMalformed)
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != e.dims {
			return nil, fmt.Errorf("embedding [%d] has wrong shape: %w", i, domain.ErrDimensionMismatch)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
