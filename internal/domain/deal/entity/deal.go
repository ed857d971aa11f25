package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadim/dealroom/internal/domain/identity"
)

// DealType decides what total_value pays for
type DealType string

const (
	DealTypeCash   DealType = "cash"
	DealTypeBarter DealType = "barter"
	DealTypeHybrid DealType = "hybrid"
)

// Valid reports whether t is a known deal type
func (t DealType) Valid() bool {
	return t == DealTypeCash || t == DealTypeBarter || t == DealTypeHybrid
}

// ShipsProduct reports whether the deal goes through the product logistics stages
func (t DealType) ShipsProduct() bool {
	return t == DealTypeBarter || t == DealTypeHybrid
}

// MaxReasonLength bounds transition reasons
const MaxReasonLength = 1000

// Deal is a collaboration between one campaign (owned by a brand) and one influencer
type Deal struct {
	ID           string `json:"id"`
	CampaignID   string `json:"campaign_id"`
	BrandID      string `json:"brand_id"`
	InfluencerID string `json:"influencer_id"`

	// Snapshots taken from the campaign collaborator, used by list views and search
	Title          string `json:"title"`
	CampaignTitle  string `json:"campaign_title"`
	BrandName      string `json:"brand_name"`
	InfluencerName string `json:"influencer_name"`

	Type                DealType        `json:"deal_type"`
	TotalValue          decimal.Decimal `json:"total_value"`
	Currency            string          `json:"currency"`
	Status              DealStatus      `json:"status"`
	RevisionCount       int             `json:"revision_count"`
	ApplicationDeadline time.Time       `json:"application_deadline"`

	// Version increments on every status change; used for optimistic concurrency
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates a deal before it is first stored
func (d *Deal) Validate(now time.Time) error {
	if d.CampaignID == "" {
		return ErrEmptyCampaignID
	}
	if d.BrandID == "" {
		return ErrEmptyBrandID
	}
	if d.InfluencerID == "" {
		return ErrEmptyInfluencerID
	}
	if !d.Type.Valid() {
		return ErrInvalidDealType
	}
	if d.TotalValue.IsNegative() {
		return ErrNegativeValue
	}
	if d.ApplicationDeadline.IsZero() {
		return ErrDeadlineRequired
	}
	if !now.Before(d.ApplicationDeadline) {
		return ErrDeadlinePassed
	}
	if !d.Status.IsInitial() {
		return ErrInvalidStatus
	}
	return nil
}

// ApplicationWindowExpired reports whether an invitation can no longer be answered
func (d *Deal) ApplicationWindowExpired(now time.Time) bool {
	return d.Status == StatusInvited && now.After(d.ApplicationDeadline)
}

// IsTerminal reports whether the deal can no longer change status
func (d *Deal) IsTerminal() bool {
	return d.Status.IsTerminal()
}

// ParticipantID returns the profile id holding the given side of the deal
func (d *Deal) ParticipantID(role identity.Role) string {
	switch role {
	case identity.RoleBrand:
		return d.BrandID
	case identity.RoleInfluencer:
		return d.InfluencerID
	default:
		return ""
	}
}

// CounterpartName returns the display name of the side opposite to role
func (d *Deal) CounterpartName(role identity.Role) string {
	switch role {
	case identity.RoleBrand:
		return d.InfluencerName
	case identity.RoleInfluencer:
		return d.BrandName
	default:
		return ""
	}
}

// Apply moves the deal to a new status. Callers validate the edge first.
func (d *Deal) Apply(to DealStatus, now time.Time) {
	if d.Status == StatusUnderReview && to == StatusRevisionRequested {
		d.RevisionCount++
	}
	d.Status = to
	d.Version++
	d.UpdatedAt = now
}
