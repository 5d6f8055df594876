// Package ingest is the live ingestion pipeline: classify each incoming
// head, close any gap against the last processed height, persist the record
// and fan it out. Gap repair runs through a shared backfill engine with a
// single-flight guard; a one-shot reconciler and a periodic head checker
// repair whatever the live path misses.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/fanout"
	"github.com/minhvn/blockpulse/internal/ingest/metrics"
	"github.com/minhvn/blockpulse/internal/storage"
	"github.com/minhvn/blockpulse/internal/upstream"
)

// PipelineConfig bounds the live-path gap closer.
type PipelineConfig struct {
	MaxLiveGap int // gaps larger than this escalate to a large-scale backfill
}

// Pipeline processes live heads one at a time in arrival order. Block N's
// persistence and fanout complete before block N+1 is handled.
type Pipeline struct {
	cfg        PipelineConfig
	store      *storage.Router
	publisher  *fanout.Publisher
	engine     *Engine
	reconciler *Reconciler
	log        *slog.Logger

	lastProcessed atomic.Uint64
	reconcileOnce sync.Once

	// Supervised background jobs (reconcile, escalated backfills). Shutdown
	// cancels their context and Wait blocks until they drain.
	jobs sync.WaitGroup
}

// NewPipeline wires the live path.
func NewPipeline(
	cfg PipelineConfig,
	store *storage.Router,
	publisher *fanout.Publisher,
	engine *Engine,
	reconciler *Reconciler,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		publisher:  publisher,
		engine:     engine,
		reconciler: reconciler,
		log:        log.With("component", "pipeline"),
	}
}

// LastProcessed returns the highest live height handled so far, 0 if none.
func (p *Pipeline) LastProcessed() uint64 {
	return p.lastProcessed.Load()
}

// HandleHead ingests one live head. The first head also triggers the
// one-shot full-scan reconciliation in the background.
func (p *Pipeline) HandleHead(ctx context.Context, head upstream.Head) {
	p.reconcileOnce.Do(func() {
		p.spawn(func() {
			if err := p.reconciler.Run(ctx, head.Height); err != nil && ctx.Err() == nil {
				p.log.Error("Full-scan reconciliation failed", "error", err)
			}
		})
	})

	last := p.lastProcessed.Load()
	if last != 0 && head.Height > last+1 {
		p.closeGap(ctx, domain.GapInterval{From: last + 1, To: head.Height - 1})
	}

	record := recordFromHead(head)
	if err := p.Persist(ctx, record); err != nil {
		p.log.Error("Failed to persist live block", "height", head.Height, "error", err)
	}
	metrics.BlocksProcessed.Inc()
	metrics.LatestHeight.Set(float64(head.Height))

	if head.Height > last {
		p.lastProcessed.Store(head.Height)
	}

	p.log.Debug("Processed live block",
		"height", record.Height, "parity", record.Parity, "magnitude", record.Magnitude)
}

// closeGap repairs the missing interval between the last processed height
// and the incoming one. Small gaps are closed inline so the live path stays
// ordered; oversized gaps run as a supervised large-scale backfill.
func (p *Pipeline) closeGap(ctx context.Context, gap domain.GapInterval) {
	if gap.Count() > uint64(p.cfg.MaxLiveGap) {
		p.log.Warn("Live gap exceeds inline limit, escalating to large backfill",
			"from", gap.From, "to", gap.To, "count", gap.Count())
		p.spawn(func() {
			if err := p.engine.RunLarge(ctx, gap); err != nil && ctx.Err() == nil {
				p.log.Warn("Escalated backfill did not run", "error", err)
			}
		})
		return
	}
	p.engine.CloseLiveGap(ctx, gap)
}

// Persist saves a record and fans it out. This is also the backfill sink,
// so recovered blocks reach live subscribers the same way live ones do.
func (p *Pipeline) Persist(ctx context.Context, record *domain.BlockRecord) error {
	if err := p.store.Save(ctx, record); err != nil {
		return err
	}
	if p.store.Degraded() {
		metrics.StorageDegraded.Set(1)
	}
	if err := p.publisher.Publish(ctx, record); err != nil {
		// Fire and forget on the remote leg; local delivery already happened.
		p.log.Debug("Remote fanout publish failed", "height", record.Height, "error", err)
	}
	return nil
}

func (p *Pipeline) spawn(fn func()) {
	p.jobs.Add(1)
	go func() {
		defer p.jobs.Done()
		fn()
	}()
}

// Wait blocks until all supervised background jobs have finished their
// current work. Called during shutdown after the context is cancelled.
func (p *Pipeline) Wait() {
	p.jobs.Wait()
}
