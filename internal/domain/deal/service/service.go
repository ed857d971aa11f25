package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vadim/dealroom/internal/domain/access"
	conventity "github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/deal/dao"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

// Config holds lifecycle policy
type Config struct {
	// MaxRevisions caps revision requests per deal; 0 disables the cap
	MaxRevisions        int
	RequireRejectReason bool
}

// Engine owns the deal status field. Every status change goes through Transition.
type Engine struct {
	store  store.Store
	guard  *access.Guard
	waker  notify.Waker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new deal lifecycle engine
func New(st store.Store, guard *access.Guard, waker notify.Waker, cfg Config, logger *slog.Logger) *Engine {
	if waker == nil {
		waker = notify.NopWaker{}
	}
	return &Engine{
		store:  st,
		guard:  guard,
		waker:  waker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the engine's time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ApplicationWindowExpired reports whether an invitation can no longer be accepted or rejected
func (e *Engine) ApplicationWindowExpired(d *entity.Deal) bool {
	return d.ApplicationWindowExpired(e.now())
}

// CreateInput represents input for creating a deal. The caller's own side is taken
// from the identity, the other side from the input.
type CreateInput struct {
	CampaignID          string
	BrandID             string
	InfluencerID        string
	Title               string
	CampaignTitle       string
	BrandName           string
	InfluencerName      string
	Type                entity.DealType
	TotalValue          decimal.Decimal
	Currency            string
	ApplicationDeadline time.Time
}

// Create opens a deal: a brand invites an influencer, an influencer applies to a campaign
func (e *Engine) Create(ctx context.Context, actor *identity.Identity, in CreateInput) (*entity.Deal, error) {
	if err := actor.Validate(); err != nil {
		return nil, entity.ErrUnauthenticated
	}

	now := e.now()
	d := &entity.Deal{
		ID:                  uuid.New().String(),
		CampaignID:          strings.TrimSpace(in.CampaignID),
		BrandID:             strings.TrimSpace(in.BrandID),
		InfluencerID:        strings.TrimSpace(in.InfluencerID),
		Title:               strings.TrimSpace(in.Title),
		CampaignTitle:       strings.TrimSpace(in.CampaignTitle),
		BrandName:           strings.TrimSpace(in.BrandName),
		InfluencerName:      strings.TrimSpace(in.InfluencerName),
		Type:                in.Type,
		TotalValue:          in.TotalValue,
		Currency:            strings.ToUpper(strings.TrimSpace(in.Currency)),
		ApplicationDeadline: in.ApplicationDeadline,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}

	switch actor.Role {
	case identity.RoleBrand:
		d.BrandID = actor.ProfileID
		d.Status = entity.StatusInvited
	case identity.RoleInfluencer:
		d.InfluencerID = actor.ProfileID
		d.Status = entity.StatusPending
	default:
		return nil, fmt.Errorf("%w: only brands and influencers can open deals", entity.ErrForbidden)
	}

	if err := d.Validate(now); err != nil {
		return nil, err
	}

	err := e.store.WithTx(ctx, func(repos store.Repositories) error {
		if err := repos.Deals().Create(ctx, d); err != nil {
			return err
		}
		if err := repos.DealEvents().Append(ctx, &entity.LifecycleEvent{
			ID:        uuid.New().String(),
			DealID:    d.ID,
			To:        d.Status,
			ActorRole: actor.Role,
			ActorID:   actor.ProfileID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		ev, err := notify.NewEvent(notify.TopicDealCreated, d.ID, entity.CreatedNotice{
			DealID:       d.ID,
			CampaignID:   d.CampaignID,
			BrandID:      d.BrandID,
			InfluencerID: d.InfluencerID,
			Status:       d.Status,
			At:           now,
		}, now)
		if err != nil {
			return err
		}
		return repos.Outbox().Enqueue(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	e.waker.Notify()

	e.logger.Info("deal created",
		"deal_id", d.ID,
		"status", d.Status,
		"role", actor.Role,
		"campaign_id", d.CampaignID,
	)
	return d, nil
}

// Get returns a deal the actor may view
func (e *Engine) Get(ctx context.Context, actor *identity.Identity, id string) (*entity.Deal, error) {
	if err := actor.Validate(); err != nil {
		return nil, entity.ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, entity.ErrDealNotFound
	}

	d, err := e.store.Deals().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.guard.AuthorizeView(actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

// TransitionInput represents a requested status change
type TransitionInput struct {
	DealID string
	Target entity.DealStatus
	Reason string
}

// Transition validates and applies a status change. The deal update, its history row,
// the notification and, on acceptance, the conversation are written atomically.
func (e *Engine) Transition(ctx context.Context, actor *identity.Identity, in TransitionInput) (*entity.Deal, error) {
	if err := actor.Validate(); err != nil {
		return nil, entity.ErrUnauthenticated
	}
	if _, err := uuid.Parse(in.DealID); err != nil {
		return nil, entity.ErrDealNotFound
	}
	target, err := entity.ParseStatus(string(in.Target))
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) > entity.MaxReasonLength {
		return nil, entity.ErrReasonTooLong
	}

	var (
		updated *entity.Deal
		from    entity.DealStatus
	)
	err = e.store.WithTx(ctx, func(repos store.Repositories) error {
		d, err := repos.Deals().GetByID(ctx, in.DealID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.guard.AuthorizeTransition(actor, d, target, now); err != nil {
			return err
		}
		if entity.RequiresReason(target, e.cfg.RequireRejectReason) && reason == "" {
			return entity.ErrReasonRequired
		}
		if e.revisionLimitReached(d, target) {
			return entity.NewInvalidTransition(d.Status, target, "revision limit reached; open a dispute")
		}

		from = d.Status
		expected := d.Version
		d.Apply(target, now)
		if err := repos.Deals().UpdateStatus(ctx, d, expected); err != nil {
			return err
		}

		if err := repos.DealEvents().Append(ctx, &entity.LifecycleEvent{
			ID:        uuid.New().String(),
			DealID:    d.ID,
			From:      from,
			To:        target,
			ActorRole: actor.Role,
			ActorID:   actorID(actor),
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if target == entity.StatusAccepted {
			conv := conventity.NewConversation(uuid.New().String(), d.ID, now)
			if _, _, err := repos.Conversations().EnsureForDeal(ctx, conv); err != nil {
				return err
			}
		}

		ev, err := notify.NewEvent(notify.TopicDealTransitioned, d.ID, entity.TransitionNotice{
			DealID:       d.ID,
			CampaignID:   d.CampaignID,
			BrandID:      d.BrandID,
			InfluencerID: d.InfluencerID,
			From:         from,
			To:           target,
			ActorRole:    actor.Role,
			ActorID:      actorID(actor),
			Reason:       reason,
			Terminal:     target.IsTerminal(),
			At:           now,
		}, now)
		if err != nil {
			return err
		}
		if err := repos.Outbox().Enqueue(ctx, ev); err != nil {
			return err
		}

		updated = d
		return nil
	})
	if err != nil {
		if errors.Is(err, entity.ErrConflict) {
			e.logger.Warn("concurrent deal transition lost", "deal_id", in.DealID, "to", target)
		}
		return nil, err
	}
	e.waker.Notify()

	e.logger.Info("deal transitioned",
		"deal_id", updated.ID,
		"from", from,
		"to", updated.Status,
		"role", actor.Role,
		"version", updated.Version,
	)
	return updated, nil
}

func (e *Engine) revisionLimitReached(d *entity.Deal, target entity.DealStatus) bool {
	return e.cfg.MaxRevisions > 0 &&
		d.Status == entity.StatusUnderReview &&
		target == entity.StatusRevisionRequested &&
		d.RevisionCount >= e.cfg.MaxRevisions
}

// actorID identifies who acted: the profile for participants, the account for operators
func actorID(actor *identity.Identity) string {
	if actor.ProfileID != "" {
		return actor.ProfileID
	}
	return actor.AccountID
}

// ListInput selects a page of deals
type ListInput struct {
	Status *entity.DealStatus
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (in ListInput) options() dao.ListOptions {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return dao.ListOptions{Limit: min(limit, maxListLimit), Offset: max(in.Offset, 0)}
}

// List returns the deals the actor takes part in; operators see every deal
func (e *Engine) List(ctx context.Context, actor *identity.Identity, in ListInput) ([]entity.Deal, error) {
	if err := actor.Validate(); err != nil {
		return nil, entity.ErrUnauthenticated
	}

	filter := dao.DealFilter{Status: in.Status}
	switch actor.Role {
	case identity.RoleBrand:
		filter.BrandID = actor.ProfileID
	case identity.RoleInfluencer:
		filter.InfluencerID = actor.ProfileID
	}
	return e.store.Deals().List(ctx, filter, in.options())
}

// ListForInfluencer returns the deals of an influencer profile that the actor may view
func (e *Engine) ListForInfluencer(ctx context.Context, actor *identity.Identity, influencerID string, in ListInput) ([]entity.Deal, error) {
	if err := e.guard.AuthorizeProfile(actor, influencerID); err != nil {
		return nil, err
	}

	// Narrow the query to what CanView admits so the store pages the result
	filter := dao.DealFilter{InfluencerID: influencerID, Status: in.Status}
	switch actor.Role {
	case identity.RoleBrand:
		filter.BrandID = actor.ProfileID
	case identity.RoleInfluencer:
		if actor.ProfileID != influencerID {
			return []entity.Deal{}, nil
		}
	}

	deals, err := e.store.Deals().List(ctx, filter, in.options())
	if err != nil {
		return nil, err
	}
	if deals == nil {
		deals = []entity.Deal{}
	}
	return deals, nil
}

// Events returns the lifecycle history of a deal the actor may view
func (e *Engine) Events(ctx context.Context, actor *identity.Identity, dealID string) ([]entity.LifecycleEvent, error) {
	if _, err := e.Get(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return e.store.DealEvents().ListByDeal(ctx, dealID)
}

// AvailableActions lists the statuses actor may move d to right now, for clients
// that render action buttons
func (e *Engine) AvailableActions(actor *identity.Identity, d *entity.Deal) []entity.DealStatus {
	now := e.now()
	out := []entity.DealStatus{}
	for _, to := range entity.Successors(d.Status, d.Type) {
		if e.guard.CanTransition(actor, d, to, now) && !e.revisionLimitReached(d, to) {
			out = append(out, to)
		}
	}
	return out
}
