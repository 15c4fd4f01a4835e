package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/engine/semantic"
	"github.com/shamgpt/shamgpt/pkg/fn"
	"github.com/shamgpt/shamgpt/pkg/gemini"
)

type articleOutcome struct {
	generated int
	stored    int
	skipped   int
	errs      []string
}

// extractStage wraps the extraction call with retries and a span.
func (s *Service) extractStage() fn.Stage[domain.Article, []gemini.ExtractedPair] {
	return fn.TracedStage("ingest.extract", fn.RetryStage(s.opts.Retry,
		func(ctx context.Context, article domain.Article) fn.Result[[]gemini.ExtractedPair] {
			return fn.FromPair(s.extract.QAFromArticle(ctx, article))
		}))
}

// processArticle extracts pairs from one article and admits each new one:
// canonical record first, vector point second. A pair whose content was seen
// before is skipped and its provenance refreshed.
func (s *Service) processArticle(ctx context.Context, article domain.Article) articleOutcome {
	var out articleOutcome

	pairs, err := s.extractStage()(ctx, article).Unwrap()
	if err != nil {
		out.errs = append(out.errs, "extract "+article.URL+": "+err.Error())
		return out
	}

	var stored []domain.QAPair
	for _, ep := range pairs {
		question := domain.NormalizeQuestion(ep.Question)
		answer := strings.TrimSpace(ep.Answer)
		if question == "" || answer == "" {
			continue
		}
		out.generated++

		pair := domain.QAPair{
			ID:           ingestQAID(question, answer),
			QuestionText: question,
			AnswerText:   answer,
			Confidence:   clampConfidence(ep.Confidence),
			Source:       domain.SourceIngested,
			Language:     domain.DetectLanguage(question, article.Language),
			CreatedAt:    time.Now().UTC(),
			Metadata:     provenance(article, ep.Keywords),
		}

		switch err := s.store.Create(ctx, pair); {
		case err == nil:
			stored = append(stored, pair)
			out.stored++
		case errors.Is(err, domain.ErrDuplicateID):
			// Same question and answer already ingested: refresh provenance.
			out.skipped++
			patch := map[string]any{
				"last_seen_url": article.URL,
				"last_seen_at":  time.Now().UTC().Format(time.RFC3339),
			}
			if uerr := s.store.UpdateMetadata(ctx, pair.ID, patch); uerr != nil {
				s.log.Warn("provenance refresh failed", "qa_id", pair.ID, "err", uerr)
			}
		case errors.Is(err, domain.ErrConflict):
			// The question exists with a different answer, possibly from the
			// ask path. The stored answer wins.
			out.skipped++
		default:
			out.errs = append(out.errs, "store "+pair.ID+": "+err.Error())
		}
	}
	s.indexPairs(ctx, stored)
	return out
}

// indexPairs embeds and upserts the article's newly stored pairs in one
// batch. Failure leaves them half-admitted: the next cycle re-extracting the
// same content skips them, so a reconciliation sweep would be needed to
// repair the points. Reachability by question text is preserved either way.
func (s *Service) indexPairs(ctx context.Context, pairs []domain.QAPair) {
	if len(pairs) == 0 {
		return
	}
	questions := fn.Map(pairs, func(p domain.QAPair) string { return p.QuestionText })
	embeddings, err := s.embed.EmbedBatch(ctx, questions)
	if err != nil || len(embeddings) != len(pairs) {
		s.log.Warn("ingest embed failed, pairs half-admitted", "count", len(pairs), "err", err)
		return
	}

	records := make([]semantic.VectorRecord, len(pairs))
	for i, pair := range pairs {
		records[i] = semantic.VectorRecord{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(pair.QuestionText)).String(),
			Embedding: embeddings[i],
			Payload: map[string]any{
				semantic.KeyQAID:      pair.ID,
				semantic.KeyQuestion:  pair.QuestionText,
				semantic.KeyIsVariant: false,
				semantic.KeyLanguage:  string(pair.Language),
				semantic.KeyCreatedAt: pair.CreatedAt.Format(time.RFC3339),
				"source":              string(pair.Source),
			},
		}
	}
	if err := s.index.UpsertBatch(ctx, records); err != nil {
		s.log.Warn("ingest upsert failed, pairs half-admitted", "count", len(pairs), "err", err)
	}
}

// ingestQAID is deterministic in the pair content, making cycles idempotent.
func ingestQAID(question, answer string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(question+"\x1f"+answer)).String()
}

func provenance(article domain.Article, keywords []string) map[string]any {
	md := map[string]any{
		"article_url":   article.URL,
		"article_title": article.Title,
		"source_name":   article.SourceName,
	}
	if article.PublishedAt != "" {
		md["published_at"] = article.PublishedAt
	}
	if len(keywords) > 0 {
		md["keywords"] = keywords
	}
	return md
}

func clampConfidence(c float64) float64 {
	switch {
	case c <= 0:
		return 0.5
	case c > 1:
		return 1
	default:
		return c
	}
}
