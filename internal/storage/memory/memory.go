// Package memory is the in-process fallback backend. Same eviction rule as
// the primary, no TTL, everything lost on process exit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/storage"
)

// Store is a mutex-guarded ordered map keyed by height.
type Store struct {
	mu       sync.RWMutex
	capacity int
	records  map[uint64]*domain.BlockRecord
	heights  []uint64 // ascending, mirrors records
	updated  uint64
}

// NewStore creates an in-memory store bounded to capacity records.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		records:  make(map[uint64]*domain.BlockRecord),
	}
}

func (s *Store) Save(ctx context.Context, record *domain.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Height]; !exists {
		idx := sort.Search(len(s.heights), func(i int) bool {
			return s.heights[i] >= record.Height
		})
		s.heights = append(s.heights, 0)
		copy(s.heights[idx+1:], s.heights[idx:])
		s.heights[idx] = record.Height
	}
	copied := *record
	s.records[record.Height] = &copied
	s.updated = uint64(time.Now().Unix())

	// Evict lowest heights once over capacity.
	for s.capacity > 0 && len(s.heights) > s.capacity {
		lowest := s.heights[0]
		s.heights = s.heights[1:]
		delete(s.records, lowest)
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, limit int) ([]*domain.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.heights) {
		limit = len(s.heights)
	}
	out := make([]*domain.BlockRecord, 0, limit)
	for i := len(s.heights) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *s.records[s.heights[i]]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *Store) Heights(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, len(s.heights))
	copy(out, s.heights)
	return out, nil
}

func (s *Store) LatestHeight(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.heights) == 0 {
		return 0, nil
	}
	return s.heights[len(s.heights)-1], nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	if len(s.heights) > 0 {
		latest = s.heights[len(s.heights)-1]
	}
	return storage.Stats{
		LatestHeight: latest,
		LastUpdate:   s.updated,
		Count:        len(s.heights),
	}, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[uint64]*domain.BlockRecord)
	s.heights = nil
	return nil
}
