package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/minhvn/blockpulse/internal/core/domain"
)

// RedisTransport publishes records on a Redis pub/sub channel so subscriber
// processes outside this one receive the live feed.
type RedisTransport struct {
	rdb     *redis.Client
	channel string
}

// NewRedisTransport creates a transport publishing on the given channel.
func NewRedisTransport(rdb *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{rdb: rdb, channel: channel}
}

func (t *RedisTransport) Publish(ctx context.Context, record *domain.BlockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", record.Height, err)
	}
	if err := t.rdb.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", t.channel, err)
	}
	return nil
}
