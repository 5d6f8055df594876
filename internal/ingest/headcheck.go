package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/ingest/metrics"
	"github.com/minhvn/blockpulse/internal/storage"
)

// HeadSource is the authoritative chain-head query.
type HeadSource interface {
	ChainHead(ctx context.Context) (uint64, error)
}

// HeadCheckerConfig bounds the periodic self-healing loop.
type HeadCheckerConfig struct {
	Interval time.Duration
	Cap      int // max heights backfilled per cycle
}

// HeadChecker is the steady-state self-healing mechanism: every cycle it
// compares the store's highest height against the upstream chain head and
// submits a bounded backfill when behind. It complements the one-shot
// reconciler.
type HeadChecker struct {
	cfg    HeadCheckerConfig
	source HeadSource
	store  *storage.Router
	engine *Engine
	log    *slog.Logger
}

// NewHeadChecker creates the periodic head checker.
func NewHeadChecker(
	cfg HeadCheckerConfig,
	source HeadSource,
	store *storage.Router,
	engine *Engine,
	log *slog.Logger,
) *HeadChecker {
	return &HeadChecker{
		cfg:    cfg,
		source: source,
		store:  store,
		engine: engine,
		log:    log.With("component", "headcheck"),
	}
}

// Run drives the periodic comparison until the context is cancelled.
func (h *HeadChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HeadChecker) check(ctx context.Context) {
	head, err := h.source.ChainHead(ctx)
	if err != nil {
		h.log.Warn("Chain head query failed", "error", err)
		return
	}
	metrics.ChainHead.Set(float64(head))

	latest, err := h.store.LatestHeight(ctx)
	if err != nil {
		h.log.Warn("Latest height lookup failed", "error", err)
		return
	}
	if latest == 0 || head <= latest {
		return
	}

	// Bounded per cycle: extend contiguously from the persisted tail so no
	// new internal gap is created; the remainder waits for the next cycle.
	gap := domain.GapInterval{From: latest + 1, To: head}
	if gap.Count() > uint64(h.cfg.Cap) {
		gap.To = gap.From + uint64(h.cfg.Cap) - 1
	}

	h.log.Info("Store behind chain head, submitting backfill",
		"latest", latest, "head", head, "from", gap.From, "to", gap.To)

	if err := h.engine.TryRunLarge(ctx, gap); err != nil {
		if errors.Is(err, ErrBackfillBusy) {
			h.log.Debug("Skipping head-check backfill, engine busy")
			return
		}
		if ctx.Err() == nil {
			h.log.Warn("Head-check backfill failed", "error", err)
		}
	}
}
