package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/fanout"
	"github.com/minhvn/blockpulse/internal/ingest"
	"github.com/minhvn/blockpulse/internal/storage"
	"github.com/minhvn/blockpulse/internal/storage/memory"
	"github.com/minhvn/blockpulse/internal/upstream"
)

type stubFetcher struct{}

func (stubFetcher) FetchByHeight(ctx context.Context, height uint64) (*domain.BlockRecord, error) {
	return &domain.BlockRecord{Height: height}, nil
}

func newTestServer(t *testing.T, store *storage.Router, seed []uint64) *Server {
	t.Helper()
	ctx := context.Background()
	for _, h := range seed {
		record := &domain.BlockRecord{Height: h, Hash: fmt.Sprintf("0x%x", h), Timestamp: h}
		if err := store.Save(ctx, record); err != nil {
			t.Fatalf("seed %d: %v", h, err)
		}
	}

	log := slog.Default()
	bus := fanout.NewLocalBus()
	publisher := fanout.NewPublisher(bus, nil, store.Degraded)
	fanoutSrv := fanout.NewServer(bus, log)

	engine := ingest.NewEngine(ingest.EngineConfig{
		BatchSize:        10,
		BatchPause:       time.Millisecond,
		SingleFlightWait: time.Second,
	}, stubFetcher{}, func(ctx context.Context, record *domain.BlockRecord) error {
		return store.Save(ctx, record)
	}, log)
	reconciler := ingest.NewReconciler(store, engine, log)
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{MaxLiveGap: 200}, store, publisher, engine, reconciler, log)
	subscriber := upstream.NewSubscriber(upstream.SubscriberConfig{URL: "ws://localhost"}, nil, log)

	return NewServer(0, store, subscriber, pipeline, reconciler, fanoutSrv, log)
}

func healthyRouter() *storage.Router {
	return storage.NewRouter(memory.NewStore(1000), memory.NewStore(1000), slog.Default())
}

func getBlocks(t *testing.T, s *Server, query string) blocksResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/blocks"+query, nil)
	rec := httptest.NewRecorder()
	s.handleBlocks(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp blocksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestBlocksNewestFirst(t *testing.T) {
	s := newTestServer(t, healthyRouter(), []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	resp := getBlocks(t, s, "?limit=5")
	want := []uint64{10, 9, 8, 7, 6}
	if len(resp.Blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(resp.Blocks), len(want))
	}
	for i, record := range resp.Blocks {
		if record.Height != want[i] {
			t.Errorf("blocks[%d].height = %d, want %d", i, record.Height, want[i])
		}
	}
	if resp.Meta.RawCount != 5 || resp.Meta.FilteredCount != 5 {
		t.Errorf("meta counts = %d/%d, want 5/5", resp.Meta.RawCount, resp.Meta.FilteredCount)
	}
}

func TestBlocksStepOffsetSampling(t *testing.T) {
	seed := make([]uint64, 0, 20)
	for h := uint64(1); h <= 20; h++ {
		seed = append(seed, h)
	}
	s := newTestServer(t, healthyRouter(), seed)

	resp := getBlocks(t, s, "?limit=5&step=3&offset=1")
	// Over-fetched 15 newest [20..6], kept heights with h%3 == 1.
	want := []uint64{19, 16, 13, 10, 7}
	if len(resp.Blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(resp.Blocks), len(want))
	}
	for i, record := range resp.Blocks {
		if record.Height != want[i] {
			t.Errorf("blocks[%d].height = %d, want %d", i, record.Height, want[i])
		}
	}
	if resp.Meta.RawCount != 15 {
		t.Errorf("rawCount = %d, want 15", resp.Meta.RawCount)
	}
	if resp.Meta.Step != 3 || resp.Meta.Offset != 1 {
		t.Errorf("meta step/offset = %d/%d, want 3/1", resp.Meta.Step, resp.Meta.Offset)
	}
}

func TestBlocksInvalidParamsFallBackToDefaults(t *testing.T) {
	s := newTestServer(t, healthyRouter(), []uint64{1, 2, 3})

	resp := getBlocks(t, s, "?limit=-4&step=0&offset=junk")
	if resp.Meta.Limit != defaultLimit {
		t.Errorf("limit = %d, want default %d", resp.Meta.Limit, defaultLimit)
	}
	if resp.Meta.Step != 1 || resp.Meta.Offset != 0 {
		t.Errorf("step/offset = %d/%d, want 1/0", resp.Meta.Step, resp.Meta.Offset)
	}
	if len(resp.Blocks) != 3 {
		t.Errorf("got %d blocks, want 3", len(resp.Blocks))
	}
}

func TestBlocksEmptyStoreReturnsEmptyArray(t *testing.T) {
	s := newTestServer(t, healthyRouter(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/blocks", nil)
	rec := httptest.NewRecorder()
	s.handleBlocks(rec, req)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["blocks"]) == "null" {
		t.Error(`"blocks" serialized as null, want []`)
	}
}

func TestHealthHealthy(t *testing.T) {
	s := newTestServer(t, healthyRouter(), []uint64{41, 42})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if resp["degraded"] != false {
		t.Errorf("degraded = %v, want false", resp["degraded"])
	}
	if resp["latestHeight"] != float64(42) {
		t.Errorf("latestHeight = %v, want 42", resp["latestHeight"])
	}
}

func TestHealthReportsDegradedStorage(t *testing.T) {
	// No primary configured: the router starts out in fallback mode.
	degradedStore := storage.NewRouter(nil, memory.NewStore(1000), slog.Default())
	s := newTestServer(t, degradedStore, []uint64{7})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, degraded storage alone is not critical", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}
