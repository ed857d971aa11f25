package entity

import (
	"time"

	"github.com/vadim/dealroom/internal/domain/identity"
)

// LifecycleEvent records one applied transition. Events are kept for history.
type LifecycleEvent struct {
	ID        string        `json:"id"`
	DealID    string        `json:"deal_id"`
	From      DealStatus    `json:"from"`
	To        DealStatus    `json:"to"`
	ActorRole identity.Role `json:"actor_role"`
	ActorID   string        `json:"actor_id"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// TransitionNotice is the payload handed to the notification dispatcher
type TransitionNotice struct {
	DealID       string        `json:"deal_id"`
	CampaignID   string        `json:"campaign_id"`
	BrandID      string        `json:"brand_id"`
	InfluencerID string        `json:"influencer_id"`
	From         DealStatus    `json:"from"`
	To           DealStatus    `json:"to"`
	ActorRole    identity.Role `json:"actor_role"`
	ActorID      string        `json:"actor_id"`
	Reason       string        `json:"reason,omitempty"`
	Terminal     bool          `json:"terminal"`
	At           time.Time     `json:"at"`
}

// CreatedNotice is published when a new deal enters the lifecycle
type CreatedNotice struct {
	DealID       string     `json:"deal_id"`
	CampaignID   string     `json:"campaign_id"`
	BrandID      string     `json:"brand_id"`
	InfluencerID string     `json:"influencer_id"`
	Status       DealStatus `json:"status"`
	At           time.Time  `json:"at"`
}
