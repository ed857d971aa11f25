package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/dealroom/internal/database"
)

// OutboxPostgres implements OutboxRepository for PostgreSQL
type OutboxPostgres struct {
	db database.Querier
}

// NewOutboxPostgres creates a new PostgreSQL outbox repository
func NewOutboxPostgres(db database.Querier) *OutboxPostgres {
	return &OutboxPostgres{db: db}
}

// Enqueue stores an event
func (r *OutboxPostgres) Enqueue(ctx context.Context, ev *Event) error {
	query := `
		INSERT INTO outbox_events (id, topic, deal_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.Exec(ctx, query, ev.ID, ev.Topic, ev.DealID, []byte(ev.Payload), ev.CreatedAt); err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}
	return nil
}

// FetchPending returns the oldest undelivered events that are due. Delivery is at-least-once.
func (r *OutboxPostgres) FetchPending(ctx context.Context, limit int, now time.Time) ([]Event, error) {
	query := `
		SELECT id, topic, deal_id, payload, created_at, attempts, last_error, next_attempt_at
		FROM outbox_events
		WHERE dispatched_at IS NULL AND failed_at IS NULL
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at, id
		LIMIT NULLIF($1::bigint, 0)
	`

	rows, err := r.db.Query(ctx, query, limit, now)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.DealID, &payload, &ev.CreatedAt, &ev.Attempts, &ev.LastError, &ev.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}

	return events, rows.Err()
}

// MarkDispatched records a successful publish
func (r *OutboxPostgres) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.Exec(ctx, "UPDATE outbox_events SET dispatched_at = $2 WHERE id = $1", id, at); err != nil {
		return fmt.Errorf("marking outbox event dispatched: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed attempt and abandons the event when giveUp is set
func (r *OutboxPostgres) MarkAttemptFailed(ctx context.Context, id, lastError string, giveUp bool, at, retryAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    failed_at = CASE WHEN $3 THEN $4::timestamptz ELSE NULL END,
		    next_attempt_at = CASE WHEN $3 THEN NULL ELSE $5::timestamptz END
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id, lastError, giveUp, at, retryAt); err != nil {
		return fmt.Errorf("recording outbox failure: %w", err)
	}
	return nil
}
