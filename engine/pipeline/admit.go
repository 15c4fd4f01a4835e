package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/semantic"
)

type admitInput struct {
	question   string
	answer     string
	embedding  []float32
	confidence float64
	language   domain.Language
	userID     string
}

// admit writes a generated pair back into the cache: canonical store first,
// then the vector point. Concurrent admits for the same normalized question
// collapse to one writer; losers observe the winner's record.
//
// A vector upsert failure leaves the pair half-admitted (reachable by
// question text, invisible to search) and is tolerated: the next admit for
// the same text re-indexes it.
func (p *Pipeline) admit(ctx context.Context, in admitInput) (domain.QAPair, error) {
	v, err, _ := p.admits.Do(in.question, func() (any, error) {
		existing, err := p.store.FindByQuestionText(ctx, in.question)
		if err == nil {
			p.indexCanonical(ctx, existing, in.embedding, in.userID)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewPipelineError(domain.KindStorage, err)
		}

		pair := domain.QAPair{
			ID:           uuid.NewString(),
			QuestionText: in.question,
			AnswerText:   in.answer,
			Confidence:   in.confidence,
			Source:       domain.SourceGenerated,
			Language:     in.language,
			CreatedAt:    time.Now().UTC(),
		}
		if in.userID != "" {
			pair.Metadata = map[string]any{"user_id": in.userID}
		}

		if err := p.store.Create(ctx, pair); err != nil {
			// A conflicting concurrent writer outside this process
			// still satisfies at-most-once: take its record.
			if errors.Is(err, domain.ErrConflict) {
				if existing, ferr := p.store.FindByQuestionText(ctx, in.question); ferr == nil {
					return existing, nil
				}
			}
			return nil, domain.NewPipelineError(domain.KindStorage, err)
		}
		p.met.Counter("shamgpt_admissions_total", "Pairs admitted by the ask path").Inc()

		p.indexCanonical(ctx, pair, in.embedding, in.userID)
		return pair, nil
	})
	if err != nil {
		return domain.QAPair{}, err
	}
	return v.(domain.QAPair), nil
}

// indexCanonical upserts the canonical vector point for a pair. The point id
// is derived from the question text, so re-admits of a half-admitted pair
// converge on the same point.
func (p *Pipeline) indexCanonical(ctx context.Context, pair domain.QAPair, embedding []float32, userID string) {
	payload := map[string]any{
		semantic.KeyQAID:      pair.ID,
		semantic.KeyQuestion:  pair.QuestionText,
		semantic.KeyIsVariant: false,
		semantic.KeyLanguage:  string(pair.Language),
		semantic.KeyCreatedAt: pair.CreatedAt.UTC().Format(time.RFC3339),
	}
	if userID != "" {
		payload[semantic.KeyUserID] = userID
	}

	err := p.index.Upsert(ctx, semantic.VectorRecord{
		ID:        canonicalPointID(pair.QuestionText),
		Embedding: embedding,
		Payload:   payload,
	})
	if err != nil {
		p.log.Error("canonical point upsert failed, pair is half-admitted",
			"qa_id", pair.ID, "err", err)
	}
}

// canonicalPointID is deterministic in the question text.
func canonicalPointID(question string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(question)).String()
}

// variantPointID is deterministic in the origin pair and variant text.
func variantPointID(qaID, variant string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(qaID+variant)).String()
}
