// Package redis is the primary backend: an ordered set of heights plus
// per-height record keys carrying a TTL, with the same lowest-height
// eviction rule as the fallback.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/storage"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// Store persists records in Redis under a key prefix.
type Store struct {
	rdb       *redis.Client
	keyPrefix string
	capacity  int
	retention time.Duration
}

// NewStore creates a Redis-backed store. Records expire after retention;
// the heights set is capped at capacity entries.
func NewStore(rdb *redis.Client, keyPrefix string, capacity int, retention time.Duration) *Store {
	return &Store{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		capacity:  capacity,
		retention: retention,
	}
}

func (s *Store) heightsKey() string { return s.keyPrefix + ":heights" }
func (s *Store) statsKey() string   { return s.keyPrefix + ":stats" }
func (s *Store) blockKey(height uint64) string {
	return fmt.Sprintf("%s:block:%d", s.keyPrefix, height)
}

func (s *Store) Save(ctx context.Context, record *domain.BlockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", record.Height, err)
	}

	member := strconv.FormatUint(record.Height, 10)
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, s.heightsKey(), redis.Z{Score: float64(record.Height), Member: member})
	pipe.Set(ctx, s.blockKey(record.Height), data, s.retention)
	pipe.HSet(ctx, s.statsKey(),
		"latestHeight", member,
		"lastUpdate", strconv.FormatInt(time.Now().Unix(), 10),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save block %d: %w", record.Height, err)
	}

	return s.enforceCapacity(ctx)
}

// enforceCapacity evicts the lowest heights whenever the set outgrows the
// configured cap.
func (s *Store) enforceCapacity(ctx context.Context) error {
	if s.capacity <= 0 {
		return nil
	}
	count, err := s.rdb.ZCard(ctx, s.heightsKey()).Result()
	if err != nil {
		return fmt.Errorf("zcard failed: %w", err)
	}
	over := int(count) - s.capacity
	if over <= 0 {
		return nil
	}

	evicted, err := s.rdb.ZPopMin(ctx, s.heightsKey(), int64(over)).Result()
	if err != nil {
		return fmt.Errorf("zpopmin failed: %w", err)
	}
	keys := make([]string, 0, len(evicted))
	for _, z := range evicted {
		height, err := strconv.ParseUint(z.Member.(string), 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.blockKey(height))
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("evict blocks: %w", err)
		}
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, limit int) ([]*domain.BlockRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	members, err := s.rdb.ZRevRange(ctx, s.heightsKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		height, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.blockKey(height))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	records := make([]*domain.BlockRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Record key expired via TTL while still listed in the set.
			continue
		}
		var record domain.BlockRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

func (s *Store) Heights(ctx context.Context) ([]uint64, error) {
	members, err := s.rdb.ZRange(ctx, s.heightsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	heights := make([]uint64, 0, len(members))
	for _, m := range members {
		h, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	return heights, nil
}

func (s *Store) LatestHeight(ctx context.Context) (uint64, error) {
	members, err := s.rdb.ZRevRange(ctx, s.heightsKey(), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("zrevrange failed: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	return strconv.ParseUint(members[0], 10, 64)
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	fields, err := s.rdb.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return storage.Stats{}, fmt.Errorf("hgetall failed: %w", err)
	}
	count, err := s.rdb.ZCard(ctx, s.heightsKey()).Result()
	if err != nil {
		return storage.Stats{}, fmt.Errorf("zcard failed: %w", err)
	}

	stats := storage.Stats{Count: int(count)}
	if v, ok := fields["latestHeight"]; ok {
		stats.LatestHeight, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := fields["lastUpdate"]; ok {
		stats.LastUpdate, _ = strconv.ParseUint(v, 10, 64)
	}
	return stats, nil
}

func (s *Store) Clear(ctx context.Context) error {
	heights, err := s.Heights(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(heights)+2)
	for _, h := range heights {
		keys = append(keys, s.blockKey(h))
	}
	keys = append(keys, s.heightsKey(), s.statsKey())
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return nil
}
