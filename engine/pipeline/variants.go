package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/semantic"
)

// scheduleVariants spawns variant expansion after the answer has been
// returned. It carries its own deadline: the caller's context may already
// be gone by the time the expansion runs.
func (p *Pipeline) scheduleVariants(qaID, question, userID string) {
	p.varWG.Add(1)
	go func() {
		defer p.varWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.VariantTimeout)
		defer cancel()
		p.expandVariants(ctx, qaID, question, userID)
	}()
}

// expandVariants generates paraphrases of a cached question and indexes
// each as a variant point. Per-variant failures are logged and skipped;
// nothing here is allowed to fail the pair itself.
func (p *Pipeline) expandVariants(ctx context.Context, qaID, question, userID string) []string {
	variants, err := p.llm.Variants(ctx, question, p.cfg.MaxVariants)
	if err != nil {
		p.log.Warn("variant generation failed", "qa_id", qaID, "err", err)
		return nil
	}

	var indexed []string
	for _, variant := range variants {
		normalized := domain.NormalizeQuestion(variant)
		if normalized == "" || normalized == question {
			continue
		}
		embedding, err := p.embed.Embed(ctx, normalized)
		if err != nil {
			p.log.Warn("variant embed failed", "qa_id", qaID, "variant", normalized, "err", err)
			continue
		}

		payload := map[string]any{
			semantic.KeyQAID:       qaID,
			semantic.KeyQuestion:   normalized,
			semantic.KeyIsVariant:  true,
			semantic.KeyOriginQAID: qaID,
			semantic.KeyCreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if userID != "" {
			payload[semantic.KeyUserID] = userID
		}

		err = p.index.Upsert(ctx, semantic.VectorRecord{
			ID:        variantPointID(qaID, normalized),
			Embedding: embedding,
			Payload:   payload,
		})
		if err != nil {
			p.log.Warn("variant upsert failed", "qa_id", qaID, "variant", normalized, "err", err)
			continue
		}
		indexed = append(indexed, normalized)
	}

	if len(indexed) > 0 {
		p.met.Counter("shamgpt_variants_total", "Variant points indexed").Add(int64(len(indexed)))
	}
	return indexed
}

// ExpandVariants is the synchronous surface behind POST /api/variants: it
// makes sure the pair is admitted, then expands and indexes its variants,
// returning the variant texts.
func (p *Pipeline) ExpandVariants(ctx context.Context, question, answer, userID string) ([]string, error) {
	normalized := domain.NormalizeQuestion(question)
	if normalized == "" || answer == "" {
		return nil, domain.NewPipelineError(domain.KindValidation,
			domain.NewValidationError("question", question, domain.ErrEmptyQuestion))
	}

	pair, err := p.store.FindByQuestionText(ctx, normalized)
	if errors.Is(err, domain.ErrNotFound) {
		embedding, eerr := p.embed.Embed(ctx, normalized)
		if eerr != nil {
			return nil, domain.NewPipelineError(domain.KindEmbedding, domain.Classify(eerr))
		}
		pair, err = p.admit(ctx, admitInput{
			question:   normalized,
			answer:     answer,
			embedding:  embedding,
			confidence: 1.0,
			language:   domain.DetectLanguage(normalized, domain.LangAuto),
			userID:     userID,
		})
	}
	if err != nil {
		return nil, err
	}

	// A re-expansion replaces the pair's variant set, so stale points from a
	// prior expansion are purged first.
	if derr := p.index.DeleteByOrigin(ctx, pair.ID); derr != nil {
		p.log.Warn("stale variant purge failed", "qa_id", pair.ID, "err", derr)
	}
	return p.expandVariants(ctx, pair.ID, normalized, userID), nil
}
