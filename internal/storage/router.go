package storage

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/minhvn/blockpulse/internal/core/domain"
)

// Router owns the primary-vs-fallback decision. Every operation tries the
// primary first; the first primary failure flips the router into degraded
// mode, retries the operation on the fallback and routes everything after
// that straight to the fallback. Degraded mode is sticky for the process
// lifetime; the primary and fallback are never reconciled.
type Router struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
	log      *slog.Logger
}

// NewRouter creates a router starting optimistic on the primary. A nil
// primary starts degraded immediately.
func NewRouter(primary, fallback Store, log *slog.Logger) *Router {
	r := &Router{
		primary:  primary,
		fallback: fallback,
		log:      log.With("component", "storage"),
	}
	if primary == nil {
		r.degraded.Store(true)
		r.log.Warn("No primary store configured, running on in-memory fallback")
	}
	return r
}

// Degraded reports whether the router has failed over to the fallback.
func (r *Router) Degraded() bool {
	return r.degraded.Load()
}

// markDegraded flips the sticky mode flag on the first primary failure.
func (r *Router) markDegraded(op string, err error) {
	if r.degraded.CompareAndSwap(false, true) {
		r.log.Error("Primary store failed, switching to in-memory fallback for the rest of the process",
			"op", op, "error", err)
	}
}

func (r *Router) Save(ctx context.Context, record *domain.BlockRecord) error {
	if !r.degraded.Load() {
		if err := r.primary.Save(ctx, record); err == nil {
			return nil
		} else {
			r.markDegraded("save", err)
		}
	}
	return r.fallback.Save(ctx, record)
}

func (r *Router) QueryRange(ctx context.Context, limit int) ([]*domain.BlockRecord, error) {
	if !r.degraded.Load() {
		records, err := r.primary.QueryRange(ctx, limit)
		if err == nil {
			return records, nil
		}
		r.markDegraded("query_range", err)
	}
	return r.fallback.QueryRange(ctx, limit)
}

func (r *Router) Heights(ctx context.Context) ([]uint64, error) {
	if !r.degraded.Load() {
		heights, err := r.primary.Heights(ctx)
		if err == nil {
			return heights, nil
		}
		r.markDegraded("heights", err)
	}
	return r.fallback.Heights(ctx)
}

func (r *Router) LatestHeight(ctx context.Context) (uint64, error) {
	if !r.degraded.Load() {
		latest, err := r.primary.LatestHeight(ctx)
		if err == nil {
			return latest, nil
		}
		r.markDegraded("latest_height", err)
	}
	return r.fallback.LatestHeight(ctx)
}

func (r *Router) Stats(ctx context.Context) (Stats, error) {
	if !r.degraded.Load() {
		stats, err := r.primary.Stats(ctx)
		if err == nil {
			return stats, nil
		}
		r.markDegraded("stats", err)
	}
	return r.fallback.Stats(ctx)
}

func (r *Router) Clear(ctx context.Context) error {
	if !r.degraded.Load() {
		if err := r.primary.Clear(ctx); err == nil {
			return r.fallback.Clear(ctx)
		} else {
			r.markDegraded("clear", err)
		}
	}
	return r.fallback.Clear(ctx)
}
