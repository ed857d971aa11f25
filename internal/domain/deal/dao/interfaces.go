package dao

import (
	"context"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// DealFilter contains filters for listing deals. Set fields are AND-ed.
type DealFilter struct {
	BrandID      string
	InfluencerID string
	Status       *entity.DealStatus
}

// ListOptions contains pagination options
type ListOptions struct {
	Limit  int
	Offset int
}

// DealRepository defines the interface for deal data access
type DealRepository interface {
	// Create inserts a new deal
	Create(ctx context.Context, d *entity.Deal) error

	// GetByID retrieves a deal by its ID, nil when absent
	GetByID(ctx context.Context, id string) (*entity.Deal, error)

	// UpdateStatus persists status, revision count, version and updated_at.
	// Fails with entity.ErrConflict if the stored version is no longer expectedVersion.
	UpdateStatus(ctx context.Context, d *entity.Deal, expectedVersion int64) error

	// List retrieves deals, most recently updated first
	List(ctx context.Context, filter DealFilter, opts ListOptions) ([]entity.Deal, error)
}

// EventRepository stores the lifecycle history
type EventRepository interface {
	// Append adds an event
	Append(ctx context.Context, ev *entity.LifecycleEvent) error

	// ListByDeal returns a deal's events, oldest first
	ListByDeal(ctx context.Context, dealID string) ([]entity.LifecycleEvent, error)
}
