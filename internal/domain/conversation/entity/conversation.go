package entity

import (
	"time"

	dealentity "github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// MessageSummary is the denormalized copy of a conversation's newest message
type MessageSummary struct {
	MessageID  int64         `json:"message_id,string"`
	Seq        int64         `json:"seq"`
	Content    string        `json:"content"`
	SenderRole identity.Role `json:"sender_role"`
	SenderID   string        `json:"sender_id"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Conversation is the single message thread bound to a deal
type Conversation struct {
	ID                    string          `json:"id"`
	DealID                string          `json:"deal_id"`
	UnreadCountBrand      int             `json:"unread_count_brand"`
	UnreadCountInfluencer int             `json:"unread_count_influencer"`
	LastSeq               int64           `json:"last_seq"`
	LastMessage           *MessageSummary `json:"last_message,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewConversation builds an empty conversation for a deal
func NewConversation(id, dealID string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		DealID:    dealID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UnreadFor returns how many counterpart messages role has not read
func (c *Conversation) UnreadFor(role identity.Role) int {
	switch role {
	case identity.RoleBrand:
		return c.UnreadCountBrand
	case identity.RoleInfluencer:
		return c.UnreadCountInfluencer
	default:
		return 0
	}
}

// NextSeq returns the order key the next appended message gets
func (c *Conversation) NextSeq() int64 {
	return c.LastSeq + 1
}

// RecordIncoming bumps the recipient's unread counter and makes msg the summary.
// Must run in the same transaction as the message insert.
func (c *Conversation) RecordIncoming(msg *Message) {
	switch msg.SenderRole {
	case identity.RoleBrand:
		c.UnreadCountInfluencer++
	case identity.RoleInfluencer:
		c.UnreadCountBrand++
	}
	c.LastSeq = msg.Seq
	c.LastMessage = &MessageSummary{
		MessageID:  msg.ID,
		Seq:        msg.Seq,
		Content:    msg.Content,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		CreatedAt:  msg.CreatedAt,
	}
	c.UpdatedAt = msg.CreatedAt
}

// ClearUnread subtracts cleared messages from reader's counter
func (c *Conversation) ClearUnread(reader identity.Role, cleared int, now time.Time) {
	if cleared <= 0 {
		return
	}
	switch reader {
	case identity.RoleBrand:
		c.UnreadCountBrand = max(c.UnreadCountBrand-cleared, 0)
	case identity.RoleInfluencer:
		c.UnreadCountInfluencer = max(c.UnreadCountInfluencer-cleared, 0)
	}
	c.UpdatedAt = now
}

// Summary is a conversation as shown in an actor's inbox
type Summary struct {
	ConversationID  string                `json:"conversation_id"`
	DealID          string                `json:"deal_id"`
	DealTitle       string                `json:"deal_title"`
	CampaignTitle   string                `json:"campaign_title"`
	DealStatus      dealentity.DealStatus `json:"deal_status"`
	CounterpartName string                `json:"counterpart_name"`
	UnreadCount     int                   `json:"unread_count"`
	LastMessage     *MessageSummary       `json:"last_message,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// ParticipantFilter selects the conversations an actor takes part in
type ParticipantFilter struct {
	Role      identity.Role
	ProfileID string
	// Search is a case-insensitive substring of counterpart name, deal title or campaign title
	Search string
	Limit  int
	Offset int
}
