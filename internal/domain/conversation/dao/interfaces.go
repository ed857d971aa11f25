package dao

import (
	"context"
	"time"

	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// ConversationRepository defines the interface for conversation data access
type ConversationRepository interface {
	// EnsureForDeal inserts conv unless the deal already has a conversation, then returns
	// the stored one locked for the rest of the transaction. created reports an insert.
	EnsureForDeal(ctx context.Context, conv *entity.Conversation) (stored *entity.Conversation, created bool, err error)

	// GetByDealID retrieves the deal's conversation, nil when absent
	GetByDealID(ctx context.Context, dealID string) (*entity.Conversation, error)

	// LockByDealID is GetByDealID holding the row lock until the transaction ends
	LockByDealID(ctx context.Context, dealID string) (*entity.Conversation, error)

	// Update persists counters, the order key and the last message summary
	Update(ctx context.Context, conv *entity.Conversation) error

	// ListForParticipant returns the actor's inbox, newest activity first
	ListForParticipant(ctx context.Context, filter entity.ParticipantFilter) ([]entity.Summary, error)
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// Insert appends a message. ID and Seq are assigned by the caller.
	Insert(ctx context.Context, msg *entity.Message) error

	// List returns up to q.Limit messages strictly after q.After in q.Order
	List(ctx context.Context, conversationID string, q entity.ListQuery) ([]entity.Message, error)

	// MarkRead stamps read_at on unread messages from senderRole with seq <= upToSeq
	// and returns how many it stamped
	MarkRead(ctx context.Context, conversationID string, senderRole identity.Role, upToSeq int64, at time.Time) (int, error)

	// CountUnread counts messages from senderRole not read yet
	CountUnread(ctx context.Context, conversationID string, senderRole identity.Role) (int, error)
}
