package upstream

import (
	"context"
	"testing"
	"time"
)

func TestGovernorGrowthProgression(t *testing.T) {
	g := NewGovernor(250 * time.Millisecond)

	want := []time.Duration{
		375 * time.Millisecond,
		562500 * time.Microsecond,
		843750 * time.Microsecond,
	}
	for i, expected := range want {
		g.ReportRateLimited()
		stats := g.Stats()
		if stats.MinInterval != expected {
			t.Errorf("after %d hits: minInterval = %v, want %v", i+1, stats.MinInterval, expected)
		}
	}

	if hits := g.Stats().RateLimitHits; hits != 3 {
		t.Errorf("rateLimitHits = %d, want 3", hits)
	}
}

func TestGovernorNeverBelowBase(t *testing.T) {
	base := 100 * time.Millisecond
	g := NewGovernor(base)

	g.ReportRateLimited()
	for i := 0; i < 1000; i++ {
		g.ReportSuccess()
		if got := g.Stats().MinInterval; got < base {
			t.Fatalf("minInterval = %v fell below base %v", got, base)
		}
	}
}

func TestGovernorSuccessNeverGrows(t *testing.T) {
	g := NewGovernor(50 * time.Millisecond)
	g.ReportRateLimited()
	before := g.Stats().MinInterval

	for i := 0; i < 200; i++ {
		g.ReportSuccess()
		if got := g.Stats().MinInterval; got > before {
			t.Fatalf("ReportSuccess grew minInterval from %v to %v", before, got)
		}
		before = g.Stats().MinInterval
	}
}

func TestGovernorAcquireSpacing(t *testing.T) {
	interval := 30 * time.Millisecond
	g := NewGovernor(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	// Three calls reserve slots at 0, interval and 2*interval.
	if elapsed := time.Since(start); elapsed < 2*interval {
		t.Errorf("3 acquires took %v, want at least %v", elapsed, 2*interval)
	}
}

func TestGovernorAcquireCancelled(t *testing.T) {
	g := NewGovernor(time.Minute)
	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := g.Acquire(cancelled); err == nil {
		t.Error("expected error from cancelled acquire")
	}
}
