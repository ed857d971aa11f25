package dao

import (
	"context"
	"fmt"

	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// EventPostgres implements EventRepository for PostgreSQL
type EventPostgres struct {
	db database.Querier
}

// NewEventPostgres creates a new PostgreSQL lifecycle event repository
func NewEventPostgres(db database.Querier) *EventPostgres {
	return &EventPostgres{db: db}
}

// Append inserts a lifecycle event
func (r *EventPostgres) Append(ctx context.Context, ev *entity.LifecycleEvent) error {
	query := `
		INSERT INTO deal_events (id, deal_id, from_status, to_status, actor_role, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		ev.ID,
		ev.DealID,
		ev.From,
		ev.To,
		ev.ActorRole,
		ev.ActorID,
		ev.Reason,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting deal event: %w", err)
	}

	return nil
}

// ListByDeal returns the history of a deal
func (r *EventPostgres) ListByDeal(ctx context.Context, dealID string) ([]entity.LifecycleEvent, error) {
	query := `
		SELECT id, deal_id, from_status, to_status, actor_role, actor_id, reason, created_at
		FROM deal_events
		WHERE deal_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("querying deal events: %w", err)
	}
	defer rows.Close()

	var events []entity.LifecycleEvent
	for rows.Next() {
		var ev entity.LifecycleEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.DealID,
			&ev.From,
			&ev.To,
			&ev.ActorRole,
			&ev.ActorID,
			&ev.Reason,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning deal event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
