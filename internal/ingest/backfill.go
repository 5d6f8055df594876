package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/ingest/metrics"
)

// ErrBackfillBusy is returned when another large-scale backfill held the
// single-flight slot for the whole bounded wait.
var ErrBackfillBusy = errors.New("large backfill already running")

// Sink receives every recovered record; the pipeline wires it to
// persist-then-publish.
type Sink func(ctx context.Context, record *domain.BlockRecord) error

// EngineConfig bounds the two backfill strategies.
type EngineConfig struct {
	BatchSize        int           // concurrent fetches per live-path batch
	BatchPause       time.Duration // pause between live-path batches
	SingleFlightWait time.Duration // max wait for the large-backfill slot
}

// Engine closes gaps using two strategies sharing one fetch primitive:
// small recent gaps are fetched in parallel batches for throughput, while
// large-scale jobs run serially newest-first under a single-flight guard so
// only one runs at a time.
type Engine struct {
	cfg     EngineConfig
	fetcher HeightFetcher
	sink    Sink
	log     *slog.Logger

	// Buffered-channel semaphore for the large-backfill slot. Waiters block
	// up to SingleFlightWait instead of polling a shared boolean.
	slot chan struct{}
}

// NewEngine creates a backfill engine delivering recovered records to sink.
func NewEngine(cfg EngineConfig, fetcher HeightFetcher, sink Sink, log *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		log:     log.With("component", "backfill"),
		slot:    make(chan struct{}, 1),
	}
}

// Active reports whether a large-scale backfill currently holds the slot.
func (e *Engine) Active() bool {
	return len(e.slot) > 0
}

// CloseLiveGap fetches a small recent gap in parallel batches. Heights that
// exhaust their retries are skipped; they stay absent until a later scan.
func (e *Engine) CloseLiveGap(ctx context.Context, gap domain.GapInterval) {
	e.log.Info("Closing live gap", "from", gap.From, "to", gap.To, "count", gap.Count())

	batch := make([]uint64, 0, e.cfg.BatchSize)
	for height := gap.From; height <= gap.To; height++ {
		batch = append(batch, height)
		if len(batch) == e.cfg.BatchSize || height == gap.To {
			e.fetchBatch(ctx, batch)
			batch = batch[:0]

			if height != gap.To {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.BatchPause):
				}
			}
		}
	}
}

func (e *Engine) fetchBatch(ctx context.Context, heights []uint64) {
	var wg sync.WaitGroup
	for _, height := range heights {
		wg.Add(1)
		go func(h uint64) {
			defer wg.Done()
			metrics.BackfillFetches.WithLabelValues("live").Inc()
			record, err := e.fetcher.FetchByHeight(ctx, h)
			if err != nil {
				return
			}
			if err := e.sink(ctx, record); err != nil {
				e.log.Warn("Failed to persist backfilled block", "height", h, "error", err)
			}
		}(height)
	}
	wg.Wait()
}

// RunLarge executes a large-scale backfill: strictly serial, newest-first.
// If another job holds the slot the caller waits up to the configured bound,
// then gives up with ErrBackfillBusy.
func (e *Engine) RunLarge(ctx context.Context, gap domain.GapInterval) error {
	release, err := e.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.runLargeLocked(ctx, gap)
}

// TryRunLarge runs a large backfill only if the slot is free right now.
// The periodic head checker uses this so cycles never queue up behind an
// in-flight job.
func (e *Engine) TryRunLarge(ctx context.Context, gap domain.GapInterval) error {
	select {
	case e.slot <- struct{}{}:
	default:
		return ErrBackfillBusy
	}
	defer func() { <-e.slot }()
	return e.runLargeLocked(ctx, gap)
}

// WaitIdle blocks until no large backfill is in flight, up to the configured
// bound.
func (e *Engine) WaitIdle(ctx context.Context) error {
	release, err := e.acquireSlot(ctx)
	if err != nil {
		return err
	}
	release()
	return nil
}

func (e *Engine) acquireSlot(ctx context.Context) (func(), error) {
	timer := time.NewTimer(e.cfg.SingleFlightWait)
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
		return func() { <-e.slot }, nil
	case <-timer.C:
		e.log.Warn("Timed out waiting for in-flight large backfill",
			"waited", e.cfg.SingleFlightWait)
		return nil, fmt.Errorf("%w: waited %s", ErrBackfillBusy, e.cfg.SingleFlightWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runLargeLocked is RunLarge's body without slot management; the caller must
// hold the slot.
func (e *Engine) runLargeLocked(ctx context.Context, gap domain.GapInterval) error {
	jobID := uuid.New().String()[:8]
	e.log.Info("Starting large backfill",
		"job", jobID, "from", gap.From, "to", gap.To, "count", gap.Count())

	var recovered, failed uint64
	for height := gap.To; height >= gap.From; height-- {
		if ctx.Err() != nil {
			e.log.Warn("Large backfill cancelled", "job", jobID, "at", height)
			return ctx.Err()
		}

		metrics.BackfillFetches.WithLabelValues("large").Inc()
		record, err := e.fetcher.FetchByHeight(ctx, height)
		if err != nil {
			failed++
		} else if err := e.sink(ctx, record); err != nil {
			e.log.Warn("Failed to persist backfilled block", "height", height, "error", err)
			failed++
		} else {
			recovered++
		}

		if height == gap.From {
			break // avoid uint underflow when From is 0
		}
	}

	e.log.Info("Large backfill finished",
		"job", jobID, "recovered", recovered, "failed", failed)
	return nil
}
