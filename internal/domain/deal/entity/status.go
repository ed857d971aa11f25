package entity

// DealStatus is the lifecycle state of a deal. Values are the wire strings clients consume.
type DealStatus string

const (
	StatusInvited           DealStatus = "invited"
	StatusPending           DealStatus = "pending"
	StatusAccepted          DealStatus = "accepted"
	StatusShortlisted       DealStatus = "shortlisted"
	StatusAddressRequested  DealStatus = "address_requested"
	StatusAddressProvided   DealStatus = "address_provided"
	StatusProductShipped    DealStatus = "product_shipped"
	StatusProductDelivered  DealStatus = "product_delivered"
	StatusActive            DealStatus = "active"
	StatusContentSubmitted  DealStatus = "content_submitted"
	StatusUnderReview       DealStatus = "under_review"
	StatusRevisionRequested DealStatus = "revision_requested"
	StatusApproved          DealStatus = "approved"
	StatusCompleted         DealStatus = "completed"
	StatusRejected          DealStatus = "rejected"
	StatusCancelled         DealStatus = "cancelled"
	StatusDispute           DealStatus = "dispute"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []DealStatus{
	StatusInvited,
	StatusPending,
	StatusAccepted,
	StatusShortlisted,
	StatusAddressRequested,
	StatusAddressProvided,
	StatusProductShipped,
	StatusProductDelivered,
	StatusActive,
	StatusContentSubmitted,
	StatusUnderReview,
	StatusRevisionRequested,
	StatusApproved,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
	StatusDispute,
}

// ParseStatus converts a wire value to a DealStatus
func ParseStatus(s string) (DealStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// IsTerminal reports whether no transition leaves the status
func (s DealStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// IsInitial reports whether a deal may be created in the status
func (s DealStatus) IsInitial() bool {
	return s == StatusInvited || s == StatusPending
}

// IsInProgress reports whether work on the deal has started and a dispute may be raised
func (s DealStatus) IsInProgress() bool {
	switch s {
	case StatusAddressRequested, StatusAddressProvided, StatusProductShipped,
		StatusProductDelivered, StatusActive, StatusContentSubmitted,
		StatusUnderReview, StatusRevisionRequested, StatusApproved:
		return true
	}
	return false
}

// Verb describes entering the status, for user-facing messages
func (s DealStatus) Verb() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	case StatusShortlisted:
		return "shortlisted"
	case StatusAddressRequested:
		return "asked for a shipping address"
	case StatusAddressProvided:
		return "given a shipping address"
	case StatusProductShipped:
		return "marked as shipped"
	case StatusProductDelivered:
		return "marked as delivered"
	case StatusActive:
		return "started"
	case StatusContentSubmitted:
		return "submitted for review"
	case StatusUnderReview:
		return "reviewed"
	case StatusRevisionRequested:
		return "sent back for revision"
	case StatusApproved:
		return "approved"
	case StatusCompleted:
		return "completed"
	case StatusDispute:
		return "disputed"
	default:
		return "moved to " + string(s)
	}
}
