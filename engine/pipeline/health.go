package pipeline

import (
	"context"
	"fmt"

	"github.com/shamgpt/shamgpt/pkg/resilience"
)

// ComponentStatus is one entry of the health report.
type ComponentStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the /api/health payload.
type HealthReport struct {
	Initialized bool                       `json:"initialized"`
	Degraded    bool                       `json:"degraded"`
	Components  map[string]ComponentStatus `json:"components"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// Init verifies the fatal dependencies on cold start: the vector collection
// must exist (created if absent) and the canonical store must answer. LLM
// and web fetcher outages are not fatal; the pipeline starts degraded and
// the breaker re-promotes it when generation recovers.
func (p *Pipeline) Init(ctx context.Context) error {
	if err := p.index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("pipeline: init vector index: %w", err)
	}
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("pipeline: init canonical store: %w", err)
	}
	if err := p.llm.Health(ctx); err != nil {
		p.log.Warn("llm unavailable at startup, running degraded", "err", err)
	}
	return nil
}

// Health probes every component. The embedder is exercised with a real call
// since there is no cheaper probe.
func (p *Pipeline) Health(ctx context.Context) HealthReport {
	report := HealthReport{Initialized: true, Components: map[string]ComponentStatus{}}

	if stats, err := p.index.CollectionStats(ctx); err != nil {
		report.Initialized = false
		report.Components["vector_index"] = ComponentStatus{Status: statusUnhealthy, Detail: err.Error()}
	} else {
		report.Components["vector_index"] = ComponentStatus{
			Status: statusHealthy,
			Detail: fmt.Sprintf("%d points", stats.PointsTotal),
		}
	}

	if err := p.store.Ping(ctx); err != nil {
		report.Initialized = false
		report.Components["canonical_store"] = ComponentStatus{Status: statusUnhealthy, Detail: err.Error()}
	} else {
		report.Components["canonical_store"] = ComponentStatus{Status: statusHealthy}
	}

	if _, err := p.embed.Embed(ctx, "health"); err != nil {
		report.Initialized = false
		report.Components["embedder"] = ComponentStatus{Status: statusUnhealthy, Detail: err.Error()}
	} else {
		report.Components["embedder"] = ComponentStatus{
			Status: statusHealthy,
			Detail: fmt.Sprintf("dims=%d", p.embed.Dims()),
		}
	}

	// Generation outage degrades rather than fails the report.
	if state := p.breaker.State(); state != resilience.StateClosed {
		report.Degraded = true
		report.Components["llm"] = ComponentStatus{Status: statusUnhealthy, Detail: "circuit " + state.String()}
	} else if err := p.llm.Health(ctx); err != nil {
		report.Degraded = true
		report.Components["llm"] = ComponentStatus{Status: statusUnhealthy, Detail: err.Error()}
	} else {
		report.Components["llm"] = ComponentStatus{Status: statusHealthy}
	}

	if p.web != nil {
		stats := p.web.Stats()
		report.Components["web_scraping"] = ComponentStatus{
			Status: statusHealthy,
			Detail: fmt.Sprintf("%d urls seen, %d sources", stats.URLsSeen, len(stats.Sources)),
		}
	}
	return report
}
