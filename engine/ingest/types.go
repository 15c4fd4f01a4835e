package ingest

import (
	"errors"
	"time"

	"github.com/shamgpt/shamgpt/pkg/fn"
)

// ErrBusy is returned when a cycle is requested while another is in flight.
var ErrBusy = errors.New("ingest: cycle already running")

// Subject is the NATS subject cycle reports are published on.
const Subject = "engine.news.report"

// Report summarizes one ingestion cycle.
type Report struct {
	StartedAt       time.Time      `json:"started_at"`
	ArticlesScraped int            `json:"articles_scraped"`
	PairsGenerated  int            `json:"pairs_generated"`
	PairsStored     int            `json:"pairs_stored"`
	PairsSkipped    int            `json:"pairs_skipped"`
	PerSource       map[string]int `json:"per_source"`
	Errors          []string       `json:"errors,omitempty"`
	ElapsedMS       int64          `json:"elapsed_ms"`
}

// Options configures the ingestion service.
type Options struct {
	// Interval between scheduled cycles.
	Interval time.Duration
	// MaxArticles caps how many scraped articles one cycle extracts from.
	MaxArticles int
	// Retry governs the extraction call per article.
	Retry fn.RetryOpts
}

// DefaultOptions returns the production schedule.
func DefaultOptions() Options {
	return Options{
		Interval:    6 * time.Hour,
		MaxArticles: 100,
		Retry: fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: 2 * time.Second,
			MaxWait:     10 * time.Second,
			Jitter:      true,
		},
	}
}
