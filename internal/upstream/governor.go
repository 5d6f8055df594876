package upstream

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	growthFactor = 1.5
	decayFactor  = 0.9
	decayChance  = 0.10
)

// Governor is the shared adaptive throttle in front of every upstream fetch.
// It behaves like a congestion controller: multiplicative backoff when the
// upstream rejects a call, slow probabilistic recovery while calls succeed.
// The asymmetry is deliberate so sustained pressure is respected for longer
// than it takes to relax.
type Governor struct {
	mu            sync.Mutex
	baseInterval  time.Duration
	minInterval   time.Duration
	lastCallAt    time.Time
	rateLimitHits uint64
}

// GovernorStats is a point-in-time snapshot of governor state.
type GovernorStats struct {
	MinInterval   time.Duration
	BaseInterval  time.Duration
	RateLimitHits uint64
}

// NewGovernor creates a governor whose interval never shrinks below base.
func NewGovernor(base time.Duration) *Governor {
	return &Governor{
		baseInterval: base,
		minInterval:  base,
	}
}

// Acquire blocks the caller until at least the current minimum interval has
// elapsed since the previous call, then records the new call time. Concurrent
// callers are serialized: each reserves its own slot before sleeping, so the
// effective rate stays at one call per interval even under batched fetches.
func (g *Governor) Acquire(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.lastCallAt.Add(g.minInterval)
	if next.Before(now) {
		next = now
	}
	g.lastCallAt = next
	wait := next.Sub(now)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReportRateLimited grows the minimum interval multiplicatively and counts
// the hit. Called after any 429 from the upstream.
func (g *Governor) ReportRateLimited() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minInterval = time.Duration(float64(g.minInterval) * growthFactor)
	g.rateLimitHits++
}

// ReportSuccess gives the interval a small chance to decay back toward the
// base. Sustained success relaxes the throttle slowly rather than at once.
func (g *Governor) ReportSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.minInterval <= g.baseInterval {
		return
	}
	if rand.Float64() >= decayChance {
		return
	}
	decayed := time.Duration(float64(g.minInterval) * decayFactor)
	if decayed < g.baseInterval {
		decayed = g.baseInterval
	}
	g.minInterval = decayed
}

// Stats returns a snapshot of the governor's current state.
func (g *Governor) Stats() GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GovernorStats{
		MinInterval:   g.minInterval,
		BaseInterval:  g.baseInterval,
		RateLimitHits: g.rateLimitHits,
	}
}
