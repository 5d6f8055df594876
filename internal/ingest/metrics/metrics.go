package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed tracks records persisted via the live path
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockpulse_blocks_processed_total",
			Help: "Total number of live blocks processed",
		},
	)

	// BackfillFetches tracks backfill fetch attempts by mode
	BackfillFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockpulse_backfill_fetches_total",
			Help: "Total number of backfill fetches issued",
		},
		[]string{"mode"},
	)

	// BackfillFailures tracks heights abandoned after exhausting retries
	BackfillFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockpulse_backfill_failures_total",
			Help: "Total number of heights abandoned after retry exhaustion",
		},
	)

	// RateLimitHits tracks 429 responses reported to the governor
	RateLimitHits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_rate_limit_hits_total",
			Help: "Total number of upstream rate limit rejections",
		},
	)

	// GovernorInterval tracks the governor's current minimum call interval
	GovernorInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_governor_interval_seconds",
			Help: "Current minimum interval between upstream fetches",
		},
	)

	// LatestHeight tracks the highest persisted height
	LatestHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_latest_height",
			Help: "Highest block height in the store",
		},
	)

	// ChainHead tracks the authoritative upstream head height
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_chain_head",
			Help: "Latest block height reported by the upstream chain",
		},
	)

	// FanoutSubscribers tracks connected live subscribers
	FanoutSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_fanout_subscribers",
			Help: "Number of connected live WebSocket subscribers",
		},
	)

	// StorageDegraded is 1 once the router has failed over to the fallback
	StorageDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockpulse_storage_degraded",
			Help: "Whether persistence has failed over to the in-memory fallback",
		},
	)
)
