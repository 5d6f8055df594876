package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/storage"
)

// Reconciler performs the one-shot startup sweep: repair the tail gap
// between the store and the first live block, then scan the whole persisted
// range for internal gaps and repair them newest to oldest.
type Reconciler struct {
	store  *storage.Router
	engine *Engine
	log    *slog.Logger
	done   atomic.Bool
}

// NewReconciler creates the one-shot reconciler.
func NewReconciler(store *storage.Router, engine *Engine, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		engine: engine,
		log:    log.With("component", "reconciler"),
	}
}

// Done reports whether the sweep has completed.
func (r *Reconciler) Done() bool {
	return r.done.Load()
}

// Run executes the sweep against the given first live height. Triggered
// exactly once per process, by the first live block received.
func (r *Reconciler) Run(ctx context.Context, liveHeight uint64) error {
	r.log.Info("Starting full-scan reconciliation", "liveHeight", liveHeight)

	latest, err := r.store.LatestHeight(ctx)
	if err != nil {
		return err
	}

	// Tail gap: the live chain is ahead of everything we have persisted.
	if latest > 0 && liveHeight > latest+1 {
		tail := domain.GapInterval{From: latest + 1, To: liveHeight - 1}
		r.log.Info("Repairing tail gap", "from", tail.From, "to", tail.To)
		if err := r.engine.RunLarge(ctx, tail); err != nil {
			r.log.Warn("Tail gap backfill did not complete", "error", err)
		}
	}

	// Let any in-flight large backfill drain before scanning, so the scan
	// sees its results and we never run overlapping backfill storms.
	if err := r.engine.WaitIdle(ctx); err != nil {
		r.log.Warn("Proceeding with scan despite busy backfill engine", "error", err)
	}

	heights, err := r.store.Heights(ctx)
	if err != nil {
		return err
	}
	gaps := FindGaps(heights)
	if len(gaps) == 0 {
		r.log.Info("Full scan found no internal gaps", "heights", len(heights))
		r.done.Store(true)
		return nil
	}
	r.log.Info("Full scan found internal gaps", "count", len(gaps))

	// Newest first, so the most recently relevant data is restored first.
	for i := len(gaps) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		gap := gaps[i]
		if err := r.engine.RunLarge(ctx, gap); err != nil {
			r.log.Warn("Gap backfill did not run",
				"from", gap.From, "to", gap.To, "error", err)
		}
	}

	r.done.Store(true)
	r.log.Info("Full-scan reconciliation complete")
	return nil
}

// FindGaps scans an ascending height list for contiguous missing ranges.
func FindGaps(heights []uint64) []domain.GapInterval {
	var gaps []domain.GapInterval
	for i := 1; i < len(heights); i++ {
		if heights[i]-heights[i-1] > 1 {
			gaps = append(gaps, domain.GapInterval{
				From: heights[i-1] + 1,
				To:   heights[i] - 1,
			})
		}
	}
	return gaps
}
