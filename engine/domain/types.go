// Package domain defines the core types shared by the Q&A engine: canonical
// Q&A pairs, scraped articles, pipeline decisions, and the closed set of
// error kinds the pipeline switches on. It acts as the validation gate at
// pipeline entry points.
package domain

import "time"

// Source tags where a Q&A pair came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
	SourceIngested  Source = "ingested"
	SourceVariant   Source = "variant"
)

// Language is the language tag carried on pairs and requests.
type Language string

const (
	LangAuto    Language = "auto"
	LangArabic  Language = "ar"
	LangEnglish Language = "en"
)

// QAPair is the canonical record of an admitted question/answer pair.
// Textual fields are immutable after admission; only Metadata may change.
type QAPair struct {
	ID           string         `json:"qa_id"`
	QuestionText string         `json:"question_text"`
	AnswerText   string         `json:"answer_text"`
	Confidence   float64        `json:"confidence"`
	Source       Source         `json:"source"`
	Language     Language       `json:"language"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ScoredHit is a vector search result. Score is cosine similarity rescaled
// so 1.0 means identical.
type ScoredHit struct {
	QAID         string         `json:"qa_id"`
	QuestionText string         `json:"question"`
	Score        float32        `json:"score"`
	IsVariant    bool           `json:"is_variant"`
	OriginQAID   string         `json:"origin_qa_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Article is a scraped news article. Articles live only for the duration of
// one ingestion cycle; URL is the dedup key.
type Article struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	SourceName  string    `json:"source_name"`
	PublishedAt string    `json:"published_at,omitempty"`
	Author      string    `json:"author,omitempty"`
	Category    string    `json:"category,omitempty"`
	Language    Language  `json:"language"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// Decision source tags returned by the ask pipeline.
const (
	TagVectorHit      = "vector_hit"
	TagGenerated      = "generated"
	TagVectorFallback = "vector_fallback"
	TagError          = "error"
)

// Processing step tags recorded by the pipeline, in order of occurrence.
const (
	StepInputNormalized    = "input_normalized"
	StepEmbeddingGenerated = "embedding_generated"
	StepSearchHit          = "semantic_search_hit"
	StepSearchMiss         = "semantic_search_miss"
	StepWebContextFetched  = "web_context_fetched"
	StepLLMOk              = "llm_ok"
	StepLLMFailed          = "llm_failed"
	StepAdmitted           = "admitted"
	StepAdmitSkipped       = "admit_skipped"
	StepVariantsScheduled  = "variants_scheduled"
)

// PipelineDecision is the structured outcome of one ask.
type PipelineDecision struct {
	Answer     string         `json:"answer"`
	Confidence float64        `json:"confidence"`
	SourceTag  string         `json:"source"`
	Steps      []string       `json:"steps"`
	ElapsedMS  int64          `json:"elapsed_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SimilarPair is a vector hit joined with its canonical record.
type SimilarPair struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Score      float32   `json:"score"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}
