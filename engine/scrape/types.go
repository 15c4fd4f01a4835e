// Package scrape fetches Syrian news articles for ingestion and for the web
// context used on the generation path. Outbound requests are paced, bounded
// by a semaphore, and deduplicated by URL for the scraper's lifetime.
package scrape

import (
	"time"

	"github.com/shamgpt/shamgpt/engine/domain"
)

// Config bounds one scraper instance.
type Config struct {
	Sources        []Source
	MaxPerSource   int
	PaceInterval   time.Duration
	RequestTimeout time.Duration
	MaxConcurrent  int
	MinContentLen  int
	MaxContentLen  int
	BlockedPhrases []string
	// ContextTTL bounds how long cached articles serve ContextFor.
	ContextTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Sources:        DefaultSources(),
		MaxPerSource:   50,
		PaceInterval:   2 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  5,
		MinContentLen:  100,
		MaxContentLen:  50000,
		BlockedPhrases: []string{"advertisement", "sponsored", "cookie", "privacy policy"},
		ContextTTL:     30 * time.Minute,
	}
}

// FetchResult is the outcome of one scraping pass. Partial failure is
// normal: sources that error are recorded and the rest proceed.
type FetchResult struct {
	Articles  []domain.Article `json:"articles"`
	PerSource map[string]int   `json:"per_source"`
	Errors    []string         `json:"errors,omitempty"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// Stats reports scraping activity for health and diagnostics.
type Stats struct {
	URLsSeen  int            `json:"urls_seen"`
	PerSource map[string]int `json:"per_source"`
	Sources   []string       `json:"sources"`
}
