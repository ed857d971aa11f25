// Package identity describes who is calling the core: their role, their account and
// the brand or influencer profile they act as. Every core operation receives an
// *Identity explicitly; a nil identity means the caller could not be resolved.
package identity

import "errors"

// Role is the side of a deal an actor is on
type Role string

const (
	RoleBrand      Role = "brand"
	RoleInfluencer Role = "influencer"
	// RoleOperator is support staff resolving disputes. Operators are never deal participants.
	RoleOperator Role = "operator"
)

var ErrInvalidIdentity = errors.New("identity is incomplete")

// IsParticipantRole reports whether the role can own one side of a deal
func (r Role) IsParticipantRole() bool {
	return r == RoleBrand || r == RoleInfluencer
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.IsParticipantRole() || r == RoleOperator
}

// Counterpart returns the other participant role. Operators have no counterpart.
func (r Role) Counterpart() Role {
	switch r {
	case RoleBrand:
		return RoleInfluencer
	case RoleInfluencer:
		return RoleBrand
	default:
		return ""
	}
}

// Identity is the resolved caller
type Identity struct {
	Role      Role   `json:"role"`
	AccountID string `json:"account_id"`
	// ProfileID is the brand id or influencer id the account acts as. Empty for operators.
	ProfileID string `json:"profile_id,omitempty"`
}

// Validate checks that the identity can be used for authorization decisions
func (i *Identity) Validate() error {
	if i == nil || i.AccountID == "" || !i.Role.Valid() {
		return ErrInvalidIdentity
	}
	if i.Role.IsParticipantRole() && i.ProfileID == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// Is reports whether the identity acts as the given role
func (i *Identity) Is(role Role) bool {
	return i != nil && i.Role == role
}
