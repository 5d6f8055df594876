package ingest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/storage"
	"github.com/minhvn/blockpulse/internal/storage/memory"
)

func TestFindGapsSingle(t *testing.T) {
	gaps := FindGaps([]uint64{50, 51, 53, 54})
	if len(gaps) != 1 {
		t.Fatalf("found %d gaps, want 1: %v", len(gaps), gaps)
	}
	g := gaps[0]
	if g.From != 52 || g.To != 52 || g.Count() != 1 {
		t.Errorf("gap = {%d,%d,%d}, want {52,52,1}", g.From, g.To, g.Count())
	}
}

func TestFindGapsMultiple(t *testing.T) {
	gaps := FindGaps([]uint64{1, 2, 5, 6, 10})
	want := []domain.GapInterval{{From: 3, To: 4}, {From: 7, To: 9}}
	if len(gaps) != len(want) {
		t.Fatalf("found %d gaps, want %d: %v", len(gaps), len(want), gaps)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Errorf("gaps[%d] = %+v, want %+v", i, gaps[i], want[i])
		}
	}
}

func TestFindGapsNone(t *testing.T) {
	if gaps := FindGaps([]uint64{7, 8, 9}); len(gaps) != 0 {
		t.Errorf("contiguous heights produced gaps: %v", gaps)
	}
	if gaps := FindGaps(nil); len(gaps) != 0 {
		t.Errorf("empty heights produced gaps: %v", gaps)
	}
}

func newTestReconciler(t *testing.T, fetcher HeightFetcher, seed []uint64) (*Reconciler, *storage.Router) {
	t.Helper()
	store := storage.NewRouter(nil, memory.NewStore(1000), slog.Default())
	ctx := context.Background()
	for _, h := range seed {
		if err := store.Save(ctx, &domain.BlockRecord{Height: h, Hash: "0x1"}); err != nil {
			t.Fatalf("seed %d: %v", h, err)
		}
	}

	engine := NewEngine(testEngineConfig(), fetcher, func(ctx context.Context, record *domain.BlockRecord) error {
		return store.Save(ctx, record)
	}, slog.Default())
	return NewReconciler(store, engine, slog.Default()), store
}

func TestReconcilerRepairsInternalGaps(t *testing.T) {
	fetcher := newFakeFetcher()
	reconciler, store := newTestReconciler(t, fetcher, []uint64{50, 51, 53, 54})
	ctx := context.Background()

	if err := reconciler.Run(ctx, 55); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reconciler.Done() {
		t.Error("reconciler not marked done")
	}

	heights, _ := store.Heights(ctx)
	if gaps := FindGaps(heights); len(gaps) != 0 {
		t.Errorf("internal gaps remain after reconcile: %v", gaps)
	}

	fetched := fetcher.order()
	if len(fetched) != 1 || fetched[0] != 52 {
		t.Errorf("fetched %v, want exactly [52]", fetched)
	}
}

func TestReconcilerRepairsTailGap(t *testing.T) {
	fetcher := newFakeFetcher()
	reconciler, store := newTestReconciler(t, fetcher, []uint64{50, 51})
	ctx := context.Background()

	if err := reconciler.Run(ctx, 55); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Tail gap [52,54] repaired newest-first.
	want := []uint64{54, 53, 52}
	got := fetcher.order()
	if len(got) != len(want) {
		t.Fatalf("fetched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fetch order %v, want %v", got, want)
		}
	}

	heights, _ := store.Heights(ctx)
	if gaps := FindGaps(heights); len(gaps) != 0 {
		t.Errorf("gaps remain: %v", gaps)
	}
}

func TestReconcilerRepairsNewestGapFirst(t *testing.T) {
	fetcher := newFakeFetcher()
	reconciler, _ := newTestReconciler(t, fetcher, []uint64{10, 12, 20, 22})
	ctx := context.Background()

	if err := reconciler.Run(ctx, 23); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Two internal gaps: [11,11] and [13,19]. The newer one goes first.
	got := fetcher.order()
	if len(got) == 0 || got[0] != 19 {
		t.Errorf("first fetched height = %v, want 19 (newest gap first)", got)
	}
	if got[len(got)-1] != 11 {
		t.Errorf("last fetched height = %d, want 11 (oldest gap last)", got[len(got)-1])
	}
}

func TestReconcilerEmptyStore(t *testing.T) {
	fetcher := newFakeFetcher()
	reconciler, _ := newTestReconciler(t, fetcher, nil)

	if err := reconciler.Run(context.Background(), 100); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(fetcher.order()); got != 0 {
		t.Errorf("issued %d fetches on empty store, want 0", got)
	}
}
