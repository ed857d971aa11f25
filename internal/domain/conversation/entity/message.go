package entity

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vadim/dealroom/internal/domain/identity"
)

// Message is one entry of a conversation's append-only log
type Message struct {
	ID             int64         `json:"id,string"`
	ConversationID string        `json:"conversation_id"`
	// Seq is the order key: strictly increasing and gap-free within a conversation
	Seq            int64         `json:"seq"`
	SenderRole     identity.Role `json:"sender_role"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
}

// IsUnreadBy reports whether reader still has to read the message
func (m *Message) IsUnreadBy(reader identity.Role) bool {
	return m.ReadAt == nil && m.SenderRole == reader.Counterpart()
}

// DefaultMaxMessageLength is used when no limit is configured
const DefaultMaxMessageLength = 4000

// ValidateContent validates message text
func ValidateContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(content) > maxLength {
		return ErrMessageTooLong
	}
	return nil
}

// Order is the direction a page of messages is read in
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListQuery selects a page of messages. After is the last order key the caller has
// seen (exclusive); zero starts from the beginning (asc) or the newest message (desc).
type ListQuery struct {
	After int64
	Limit int
	Order Order
}

// Page is one page of messages
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// EncodeCursor renders an order key as an opaque cursor
func EncodeCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// DecodeCursor parses a cursor; the empty cursor is zero
func DecodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

// NewMessageNotice is the payload handed to the notification dispatcher
type NewMessageNotice struct {
	DealID         string        `json:"deal_id"`
	ConversationID string        `json:"conversation_id"`
	MessageID      int64         `json:"message_id,string"`
	Seq            int64         `json:"seq"`
	SenderRole     identity.Role `json:"sender_role"`
	SenderID       string        `json:"sender_id"`
	RecipientRole  identity.Role `json:"recipient_role"`
	RecipientID    string        `json:"recipient_id"`
	Preview        string        `json:"preview"`
	At             time.Time     `json:"at"`
}

// Preview shortens content for notifications
func Preview(content string, n int) string {
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n]) + "..."
}

// ReadNotice is published when a participant reads the counterpart's messages
type ReadNotice struct {
	DealID         string        `json:"deal_id"`
	ConversationID string        `json:"conversation_id"`
	Reader         identity.Role `json:"reader"`
	UpTo           int64         `json:"up_to"`
	Cleared        int           `json:"cleared"`
	At             time.Time     `json:"at"`
}
