// Package storage persists classified block records behind a dual-backend
// router: a Redis primary and an in-process fallback with identical
// capacity-eviction semantics.
package storage

import (
	"context"

	"github.com/minhvn/blockpulse/internal/core/domain"
)

// Stats describes the persisted range.
type Stats struct {
	LatestHeight uint64 `json:"latestHeight"`
	LastUpdate   uint64 `json:"lastUpdate"`
	Count        int    `json:"count"`
}

// Store is the capacity-bounded record store. Both backends enforce the same
// cardinality rule: when the record count exceeds the configured capacity,
// the lowest heights are evicted first.
type Store interface {
	// Save persists a record. Saving the same height twice overwrites with
	// identical content since records are immutable.
	Save(ctx context.Context, record *domain.BlockRecord) error

	// QueryRange returns up to limit records, newest-first.
	QueryRange(ctx context.Context, limit int) ([]*domain.BlockRecord, error)

	// Heights returns every known height in ascending order.
	Heights(ctx context.Context) ([]uint64, error)

	// LatestHeight returns the highest known height, or 0 when empty.
	LatestHeight(ctx context.Context) (uint64, error)

	// Stats returns the persisted-range summary.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes every record.
	Clear(ctx context.Context) error
}
