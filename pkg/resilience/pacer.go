package resilience

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between consecutive operations. Unlike
// Limiter it has no burst: every call is spaced at least Interval apart,
// which is what polite scraping wants.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewPacer creates a pacer with the given minimum interval. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until at least the configured interval has passed since the
// previous successful Wait, or ctx is cancelled. The slot is claimed before
// sleeping, so concurrent callers queue up rather than stampede.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := p.now()
	next := p.last.Add(p.interval)
	if next.Before(now) {
		next = now
	}
	wait := next.Sub(now)
	p.last = next
	p.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
