// Package notify hands lifecycle and message events to delivery channels.
//
// Events are written to an outbox in the same transaction as the state change that
// produced them. A Dispatcher drains the outbox in the background and publishes each
// event; publish failures are retried and never surface to the request that caused them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event topics, also used as routing keys
const (
	TopicDealCreated      = "deal.created.v1"
	TopicDealTransitioned = "deal.transitioned.v1"
	TopicMessageCreated   = "message.created.v1"
	TopicMessagesRead     = "message.read.v1"
)

// Producer identifies this service in envelopes
const Producer = "dealroom"

// Event is one outbox row
type Event struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	DealID        string          `json:"deal_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

// NewEvent builds an outbox event with a JSON payload
func NewEvent(topic, dealID string, payload any, now time.Time) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return &Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		DealID:    dealID,
		Payload:   body,
		CreatedAt: now,
	}, nil
}

// Meta describes an envelope
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the wire format published to every channel
type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Envelope wraps the event for publishing. The deal id correlates every event of a deal.
func (e *Event) Envelope() Envelope {
	return Envelope{
		Meta: Meta{
			ID:            e.ID,
			CorrelationID: e.DealID,
			Producer:      Producer,
			Time:          e.CreatedAt.UTC(),
			Type:          e.Topic,
		},
		Data: e.Payload,
	}
}

// OutboxRepository stores events until they are published
type OutboxRepository interface {
	// Enqueue stores a new event
	Enqueue(ctx context.Context, ev *Event) error

	// FetchPending returns undelivered, not abandoned events due for an attempt at now, oldest first
	FetchPending(ctx context.Context, limit int, now time.Time) ([]Event, error)

	// MarkDispatched records a successful publish
	MarkDispatched(ctx context.Context, id string, at time.Time) error

	// MarkAttemptFailed records a failed publish and defers the event until retryAt;
	// giveUp abandons it instead
	MarkAttemptFailed(ctx context.Context, id, lastError string, giveUp bool, at, retryAt time.Time) error
}

// Waker is told that new events are waiting
type Waker interface {
	Notify()
}

// NopWaker ignores wake-ups; the dispatcher still polls
type NopWaker struct{}

func (NopWaker) Notify() {}
