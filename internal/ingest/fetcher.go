package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/minhvn/blockpulse/internal/classify"
	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/ingest/metrics"
	"github.com/minhvn/blockpulse/internal/upstream"
)

// HeightFetcher is the upstream call both backfill paths are built on.
type HeightFetcher interface {
	FetchByHeight(ctx context.Context, height uint64) (*domain.BlockRecord, error)
}

// Fetcher wraps the upstream client with the rate governor and per-attempt
// retry policy. A height that exhausts its retry budget is abandoned and
// counted as a failure; the reconciler or head checker will rediscover it.
type Fetcher struct {
	client     BlockSource
	governor   *upstream.Governor
	maxRetries int
	log        *slog.Logger
	failures   atomic.Uint64
}

// BlockSource is the upstream request-response call by height.
type BlockSource interface {
	BlockByHeight(ctx context.Context, height uint64) (*upstream.Head, error)
}

// NewFetcher creates the shared fetch primitive.
func NewFetcher(client BlockSource, governor *upstream.Governor, maxRetries int, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		governor:   governor,
		maxRetries: maxRetries,
		log:        log.With("component", "fetcher"),
	}
}

// Failures returns the number of abandoned heights so far.
func (f *Fetcher) Failures() uint64 {
	return f.failures.Load()
}

// FetchByHeight fetches and classifies one block. Every attempt passes
// through the governor; rate-limit rejections grow the governor's interval
// and back off exponentially before the next attempt.
func (f *Fetcher) FetchByHeight(ctx context.Context, height uint64) (*domain.BlockRecord, error) {
	var lastErr error

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if err := f.governor.Acquire(ctx); err != nil {
			return nil, err
		}

		head, err := f.client.BlockByHeight(ctx, height)
		if err == nil {
			f.governor.ReportSuccess()
			return recordFromHead(*head), nil
		}
		lastErr = err

		if errors.Is(err, upstream.ErrRateLimited) {
			f.governor.ReportRateLimited()
			stats := f.governor.Stats()
			metrics.RateLimitHits.Set(float64(stats.RateLimitHits))
			metrics.GovernorInterval.Set(stats.MinInterval.Seconds())
			f.log.Warn("Rate limited fetching block",
				"height", height, "attempt", attempt+1, "interval", stats.MinInterval)
		} else {
			f.log.Debug("Fetch attempt failed",
				"height", height, "attempt", attempt+1, "error", err)
		}

		if attempt == f.maxRetries-1 {
			break
		}

		delay := (250 * time.Millisecond) << attempt
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	f.failures.Add(1)
	metrics.BackfillFailures.Inc()
	f.log.Error("Abandoning block after retry exhaustion",
		"height", height, "attempts", f.maxRetries, "error", lastErr)
	return nil, fmt.Errorf("height %d abandoned after %d attempts: %w", height, f.maxRetries, lastErr)
}

// recordFromHead classifies a raw head into a persistable record.
func recordFromHead(head upstream.Head) *domain.BlockRecord {
	record := &domain.BlockRecord{
		Height:    head.Height,
		Hash:      head.Hash,
		Timestamp: head.Timestamp,
	}
	classify.Apply(record)
	return record
}
