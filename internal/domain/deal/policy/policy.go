package policy

import (
	"context"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/service"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// Policy orchestrates deal use-cases
type Policy struct {
	engine *service.Engine
}

// New creates a new deal policy
func New(engine *service.Engine) *Policy {
	return &Policy{engine: engine}
}

// DealView is a deal together with what the caller can do with it
type DealView struct {
	Deal                     *entity.Deal        `json:"deal"`
	AvailableActions         []entity.DealStatus `json:"available_actions"`
	ApplicationWindowExpired bool                `json:"application_window_expired"`
}

func (p *Policy) view(actor *identity.Identity, d *entity.Deal) *DealView {
	return &DealView{
		Deal:                     d,
		AvailableActions:         p.engine.AvailableActions(actor, d),
		ApplicationWindowExpired: p.engine.ApplicationWindowExpired(d),
	}
}

// GetDeal returns a deal the caller may view
func (p *Policy) GetDeal(ctx context.Context, actor *identity.Identity, id string) (*DealView, error) {
	d, err := p.engine.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return p.view(actor, d), nil
}

// CreateDeal opens an invitation (brand) or an application (influencer)
func (p *Policy) CreateDeal(ctx context.Context, actor *identity.Identity, in service.CreateInput) (*DealView, error) {
	d, err := p.engine.Create(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	return p.view(actor, d), nil
}

// Transition moves a deal to the requested status
func (p *Policy) Transition(ctx context.Context, actor *identity.Identity, in service.TransitionInput) (*DealView, error) {
	d, err := p.engine.Transition(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	return p.view(actor, d), nil
}

// ListDealsInput represents input for listing deals
type ListDealsInput struct {
	// InfluencerID lists one influencer profile's deals instead of the caller's own
	InfluencerID string
	Status       *entity.DealStatus
	Limit        int
	Offset       int
}

// ListDealsOutput represents a page of deals
type ListDealsOutput struct {
	Deals  []entity.Deal `json:"deals"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListDeals lists the caller's deals, or an influencer profile's deals
func (p *Policy) ListDeals(ctx context.Context, actor *identity.Identity, in ListDealsInput) (*ListDealsOutput, error) {
	listIn := service.ListInput{Status: in.Status, Limit: in.Limit, Offset: in.Offset}

	var (
		deals []entity.Deal
		err   error
	)
	if in.InfluencerID != "" {
		deals, err = p.engine.ListForInfluencer(ctx, actor, in.InfluencerID, listIn)
	} else {
		deals, err = p.engine.List(ctx, actor, listIn)
	}
	if err != nil {
		return nil, err
	}
	if deals == nil {
		deals = []entity.Deal{}
	}

	return &ListDealsOutput{Deals: deals, Limit: in.Limit, Offset: in.Offset}, nil
}

// ListEvents returns a deal's lifecycle history
func (p *Policy) ListEvents(ctx context.Context, actor *identity.Identity, dealID string) ([]entity.LifecycleEvent, error) {
	events, err := p.engine.Events(ctx, actor, dealID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []entity.LifecycleEvent{}
	}
	return events, nil
}
