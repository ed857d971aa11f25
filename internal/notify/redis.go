package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher appends envelopes to a capped Redis stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	log    *slog.Logger
}

// NewRedisPublisher connects to redisURL and checks the connection
func NewRedisPublisher(ctx context.Context, redisURL, stream string, maxLen int64, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, log: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id": env.Meta.ID,
			"type":     key,
			"deal_id":  env.Meta.CorrelationID,
			"envelope": string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}

	p.log.DebugContext(ctx, "published", "key", key, "stream", p.stream, "event_id", env.Meta.ID)
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
