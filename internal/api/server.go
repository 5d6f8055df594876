// Package api exposes the pipeline's boundary to collaborators: the range
// query over persisted records, the live WebSocket subscription, and the
// health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/fanout"
	"github.com/minhvn/blockpulse/internal/ingest"
	"github.com/minhvn/blockpulse/internal/storage"
	"github.com/minhvn/blockpulse/internal/upstream"
)

const defaultLimit = 500

// Server is the HTTP surface of the pipeline.
type Server struct {
	store      *storage.Router
	subscriber *upstream.Subscriber
	pipeline   *ingest.Pipeline
	reconciler *ingest.Reconciler
	fanout     *fanout.Server
	server     *http.Server
	log        *slog.Logger
}

// NewServer creates the HTTP server on the given port.
func NewServer(
	port int,
	store *storage.Router,
	subscriber *upstream.Subscriber,
	pipeline *ingest.Pipeline,
	reconciler *ingest.Reconciler,
	fanoutSrv *fanout.Server,
	log *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		store:      store,
		subscriber: subscriber,
		pipeline:   pipeline,
		reconciler: reconciler,
		fanout:     fanoutSrv,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		log: log.With("component", "api"),
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/blocks", s.handleBlocks)
	mux.Handle("/ws", fanoutSrv)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Warn("Stats lookup failed", "error", err)
	}

	connState := s.subscriber.State()
	status := "healthy"
	httpStatus := http.StatusOK
	if s.store.Degraded() {
		status = "degraded"
	}
	if connState == upstream.StateGivenUp {
		status = "critical"
		httpStatus = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":        status,
		"connection":    connState.String(),
		"degraded":      s.store.Degraded(),
		"reconciled":    s.reconciler.Done(),
		"lastProcessed": s.pipeline.LastProcessed(),
		"latestHeight":  stats.LatestHeight,
		"recordCount":   stats.Count,
		"subscribers":   s.fanout.ActiveConnections(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(response)
}

// blocksMeta describes raw-vs-filtered counts and per-phase timings for a
// range query.
type blocksMeta struct {
	RawCount      int   `json:"rawCount"`
	FilteredCount int   `json:"filteredCount"`
	Limit         int   `json:"limit"`
	Step          int   `json:"step"`
	Offset        int   `json:"offset"`
	QueryMillis   int64 `json:"queryMs"`
	FilterMillis  int64 `json:"filterMs"`
}

type blocksResponse struct {
	Blocks []*domain.BlockRecord `json:"blocks"`
	Meta   blocksMeta            `json:"meta"`
}

// handleBlocks serves the downstream range query: up to limit records,
// newest-first, optionally sampled by height % step == offset.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	step := queryInt(r, "step", 1)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 {
		limit = defaultLimit
	}
	if step < 1 {
		step = 1
	}

	queryStart := time.Now()
	// Over-fetch when sampling so the filtered result can still fill limit.
	fetchLimit := limit
	if step > 1 {
		fetchLimit = limit * step
	}
	records, err := s.store.QueryRange(r.Context(), fetchLimit)
	queryMillis := time.Since(queryStart).Milliseconds()
	if err != nil {
		s.log.Error("Range query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	filterStart := time.Now()
	rawCount := len(records)
	filtered := records
	if step > 1 {
		filtered = make([]*domain.BlockRecord, 0, limit)
		for _, record := range records {
			if int(record.Height)%step == offset%step {
				filtered = append(filtered, record)
			}
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	filterMillis := time.Since(filterStart).Milliseconds()

	response := blocksResponse{
		Blocks: filtered,
		Meta: blocksMeta{
			RawCount:      rawCount,
			FilteredCount: len(filtered),
			Limit:         limit,
			Step:          step,
			Offset:        offset,
			QueryMillis:   queryMillis,
			FilterMillis:  filterMillis,
		},
	}
	if response.Blocks == nil {
		response.Blocks = []*domain.BlockRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
