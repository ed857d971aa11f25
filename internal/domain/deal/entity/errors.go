package entity

import (
	"errors"
	"fmt"
)

// Error kinds shared by every component that guards or mutates a deal
var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("not allowed to perform this action")
	ErrDealNotFound      = errors.New("deal not found")
	ErrInvalidTransition = errors.New("invalid deal transition")
	ErrConflict          = errors.New("deal was modified concurrently, retry")
	ErrValidation        = errors.New("validation failed")
)

// Validation errors
var (
	ErrEmptyCampaignID   = fmt.Errorf("%w: campaign_id is required", ErrValidation)
	ErrEmptyBrandID      = fmt.Errorf("%w: brand_id is required", ErrValidation)
	ErrEmptyInfluencerID = fmt.Errorf("%w: influencer_id is required", ErrValidation)
	ErrNegativeValue     = fmt.Errorf("%w: total_value cannot be negative", ErrValidation)
	ErrInvalidDealType   = fmt.Errorf("%w: deal_type must be cash, barter or hybrid", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: unknown deal status", ErrValidation)
	ErrDeadlineRequired  = fmt.Errorf("%w: application_deadline is required", ErrValidation)
	ErrDeadlinePassed    = fmt.Errorf("%w: application deadline has already passed", ErrValidation)
	ErrReasonRequired    = fmt.Errorf("%w: a reason is required for this transition", ErrValidation)
	ErrReasonTooLong     = fmt.Errorf("%w: reason exceeds maximum length", ErrValidation)
)

// ErrApplicationWindowClosed refuses accept/reject on an invitation past its deadline
var ErrApplicationWindowClosed = fmt.Errorf("%w: the application window for this deal has closed", ErrForbidden)

// InvalidTransitionError names the current and requested states of a refused transition
type InvalidTransitionError struct {
	From   DealStatus
	To     DealStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move deal from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move deal from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// UserMessage is the reason shown to the caller
func (e *InvalidTransitionError) UserMessage() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.From.IsTerminal() {
		return fmt.Sprintf("This deal is %s and can no longer change status", e.From)
	}
	return fmt.Sprintf("This deal is not in a state where it can be %s", e.To.Verb())
}

// NewInvalidTransition builds an InvalidTransitionError
func NewInvalidTransition(from, to DealStatus, reason string) error {
	return &InvalidTransitionError{From: from, To: to, Reason: reason}
}
