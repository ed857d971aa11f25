package entity

import "github.com/vadim/dealroom/internal/domain/identity"

// Rule is one edge of the deal lifecycle graph
type Rule struct {
	From  DealStatus
	To    DealStatus
	Roles []identity.Role
	// Types restricts the edge to these deal types; empty means every type
	Types []DealType
}

// Allows reports whether role may take this edge
func (r Rule) Allows(role identity.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the edge exists for a deal of type t
func (r Rule) AppliesTo(t DealType) bool {
	if len(r.Types) == 0 {
		return true
	}
	for _, allowed := range r.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

var (
	brand      = []identity.Role{identity.RoleBrand}
	influencer = []identity.Role{identity.RoleInfluencer}
	both       = []identity.Role{identity.RoleBrand, identity.RoleInfluencer}
	operator   = []identity.Role{identity.RoleOperator}

	cashOnly     = []DealType{DealTypeCash}
	withProducts = []DealType{DealTypeBarter, DealTypeHybrid}
)

// transitions is the single source of truth for the lifecycle graph.
// Everything that needs to know "what can happen next" asks this table.
var transitions = []Rule{
	// invitation / application
	{From: StatusInvited, To: StatusAccepted, Roles: influencer},
	{From: StatusInvited, To: StatusRejected, Roles: influencer},
	{From: StatusInvited, To: StatusCancelled, Roles: brand},
	{From: StatusPending, To: StatusShortlisted, Roles: brand},
	{From: StatusPending, To: StatusRejected, Roles: brand},
	{From: StatusPending, To: StatusCancelled, Roles: influencer},

	// onboarding
	{From: StatusAccepted, To: StatusShortlisted, Roles: brand},
	{From: StatusAccepted, To: StatusRejected, Roles: brand},
	{From: StatusAccepted, To: StatusCancelled, Roles: both},
	{From: StatusAccepted, To: StatusAddressRequested, Roles: brand, Types: withProducts},
	{From: StatusAccepted, To: StatusActive, Roles: brand, Types: cashOnly},
	{From: StatusShortlisted, To: StatusRejected, Roles: brand},
	{From: StatusShortlisted, To: StatusCancelled, Roles: both},
	{From: StatusShortlisted, To: StatusAddressRequested, Roles: brand, Types: withProducts},
	{From: StatusShortlisted, To: StatusActive, Roles: brand, Types: cashOnly},

	// product logistics
	{From: StatusAddressRequested, To: StatusAddressProvided, Roles: influencer},
	{From: StatusAddressRequested, To: StatusCancelled, Roles: both},
	{From: StatusAddressRequested, To: StatusDispute, Roles: both},
	{From: StatusAddressProvided, To: StatusProductShipped, Roles: brand},
	{From: StatusAddressProvided, To: StatusCancelled, Roles: both},
	{From: StatusAddressProvided, To: StatusDispute, Roles: both},
	{From: StatusProductShipped, To: StatusProductDelivered, Roles: both},
	{From: StatusProductShipped, To: StatusCancelled, Roles: both},
	{From: StatusProductShipped, To: StatusDispute, Roles: both},
	{From: StatusProductDelivered, To: StatusActive, Roles: brand},
	{From: StatusProductDelivered, To: StatusCancelled, Roles: both},
	{From: StatusProductDelivered, To: StatusDispute, Roles: both},

	// content
	{From: StatusActive, To: StatusContentSubmitted, Roles: influencer},
	{From: StatusActive, To: StatusCancelled, Roles: both},
	{From: StatusActive, To: StatusDispute, Roles: both},
	{From: StatusContentSubmitted, To: StatusUnderReview, Roles: brand},
	{From: StatusContentSubmitted, To: StatusDispute, Roles: both},
	{From: StatusUnderReview, To: StatusRevisionRequested, Roles: brand},
	{From: StatusUnderReview, To: StatusApproved, Roles: brand},
	{From: StatusUnderReview, To: StatusDispute, Roles: both},
	{From: StatusRevisionRequested, To: StatusContentSubmitted, Roles: influencer},
	{From: StatusRevisionRequested, To: StatusCancelled, Roles: both},
	{From: StatusRevisionRequested, To: StatusDispute, Roles: both},
	{From: StatusApproved, To: StatusCompleted, Roles: brand},
	{From: StatusApproved, To: StatusDispute, Roles: both},

	// manual dispute resolution
	{From: StatusDispute, To: StatusCompleted, Roles: operator},
	{From: StatusDispute, To: StatusRejected, Roles: operator},
	{From: StatusDispute, To: StatusCancelled, Roles: operator},
}

// LookupRule returns the edge from -> to for a deal of type t
func LookupRule(from, to DealStatus, t DealType) (Rule, bool) {
	for _, r := range transitions {
		if r.From == from && r.To == to && r.AppliesTo(t) {
			return r, true
		}
	}
	return Rule{}, false
}

// Successors lists every status reachable in one step from `from` for deal type t
func Successors(from DealStatus, t DealType) []DealStatus {
	var out []DealStatus
	for _, r := range transitions {
		if r.From == from && r.AppliesTo(t) {
			out = append(out, r.To)
		}
	}
	return out
}

// AvailableActions lists the statuses role may move the deal to right now
func AvailableActions(d *Deal, role identity.Role) []DealStatus {
	var out []DealStatus
	for _, r := range transitions {
		if r.From == d.Status && r.AppliesTo(d.Type) && r.Allows(role) {
			out = append(out, r.To)
		}
	}
	return out
}

// RequiresReason reports whether entering status needs an explanation
func RequiresReason(to DealStatus, rejectReasonPolicy bool) bool {
	switch to {
	case StatusDispute:
		return true
	case StatusRejected:
		return rejectReasonPolicy
	}
	return false
}
