package notify

import (
	"context"
	"log/slog"
)

// Publisher delivers one envelope to a channel
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// LogPublisher only logs events. Used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a publisher that logs and drops events
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	p.log.InfoContext(ctx, "event published to log",
		slog.String("key", key),
		slog.String("event_id", env.Meta.ID),
		slog.String("deal_id", env.Meta.CorrelationID),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
