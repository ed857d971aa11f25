// Package access decides whether an identity may observe or mutate a deal and its
// conversation. Absent deals and deals the caller has no part in are indistinguishable:
// both fail with entity.ErrDealNotFound.
package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// Options switches the profile-scoped view rules
type Options struct {
	// AllowBrandAccess lets any brand view an influencer's profile-scoped resources
	AllowBrandAccess bool
	// RestrictToOwnProfile limits influencers to their own profile-scoped resources
	RestrictToOwnProfile bool
}

// Guard evaluates capability checks. It holds no data and is safe for concurrent use.
type Guard struct {
	opts Options
}

// NewGuard creates a guard
func NewGuard(opts Options) *Guard {
	return &Guard{opts: opts}
}

// authenticated fails with ErrUnauthenticated when actor cannot be resolved
func authenticated(actor *identity.Identity) error {
	if err := actor.Validate(); err != nil {
		return entity.ErrUnauthenticated
	}
	return nil
}

// CanView reports whether actor is the deal's brand or influencer, or an operator
func (g *Guard) CanView(actor *identity.Identity, d *entity.Deal) bool {
	if d == nil || authenticated(actor) != nil {
		return false
	}
	if actor.Is(identity.RoleOperator) {
		return true
	}
	return d.ParticipantID(actor.Role) == actor.ProfileID
}

// AuthorizeView returns the error a request for d should fail with, or nil
func (g *Guard) AuthorizeView(actor *identity.Identity, d *entity.Deal) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !g.CanView(actor, d) {
		return entity.ErrDealNotFound
	}
	return nil
}

// CanViewProfile reports whether actor may see resources scoped to an influencer profile
func (g *Guard) CanViewProfile(actor *identity.Identity, influencerID string) bool {
	if authenticated(actor) != nil || influencerID == "" {
		return false
	}
	switch actor.Role {
	case identity.RoleOperator:
		return true
	case identity.RoleBrand:
		return g.opts.AllowBrandAccess
	case identity.RoleInfluencer:
		return !g.opts.RestrictToOwnProfile || actor.ProfileID == influencerID
	}
	return false
}

// AuthorizeProfile is CanViewProfile as an error
func (g *Guard) AuthorizeProfile(actor *identity.Identity, influencerID string) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !g.CanViewProfile(actor, influencerID) {
		return fmt.Errorf("%w: this influencer profile is not visible to you", entity.ErrForbidden)
	}
	return nil
}

// CanTransition reports whether actor's role may move d to target right now
func (g *Guard) CanTransition(actor *identity.Identity, d *entity.Deal, target entity.DealStatus, now time.Time) bool {
	return g.AuthorizeTransition(actor, d, target, now) == nil
}

// AuthorizeTransition checks visibility, graph legality, the role whitelist and the
// application window, in that order
func (g *Guard) AuthorizeTransition(actor *identity.Identity, d *entity.Deal, target entity.DealStatus, now time.Time) error {
	if err := g.AuthorizeView(actor, d); err != nil {
		return err
	}

	rule, ok := entity.LookupRule(d.Status, target, d.Type)
	if !ok {
		return entity.NewInvalidTransition(d.Status, target, "")
	}
	if !rule.Allows(actor.Role) {
		return fmt.Errorf("%w: only the %s can move this deal to %s",
			entity.ErrForbidden, joinRoles(rule.Roles), target)
	}
	if (target == entity.StatusAccepted || target == entity.StatusRejected) && d.ApplicationWindowExpired(now) {
		return entity.ErrApplicationWindowClosed
	}
	return nil
}

// AuthorizeMessage allows the deal's participants to post in any status
func (g *Guard) AuthorizeMessage(actor *identity.Identity, d *entity.Deal) error {
	if err := g.AuthorizeView(actor, d); err != nil {
		return err
	}
	if !actor.Role.IsParticipantRole() {
		return fmt.Errorf("%w: only the brand or the influencer of a deal can send messages", entity.ErrForbidden)
	}
	return nil
}

func joinRoles(roles []identity.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}
