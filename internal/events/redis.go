package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"adforge/internal/infra"
)

const streamKey = "adforge:events:jobs"

// streamMaxLen caps the stream so an unattended instance does not grow
// Redis without bound.
const streamMaxLen = 10000

// RedisPublisher appends events to a Redis Stream.
type RedisPublisher struct {
	client *redis.Client
	logger infra.Logger
}

func NewRedisPublisher(client *redis.Client, logger infra.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", streamKey, err)
	}
	p.logger.Debug().
		Str("type", string(event.Type)).
		Str("job_id", event.JobID).
		Msg("event published")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
