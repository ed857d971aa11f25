package entity

import "errors"

// Domain errors for deal conversations
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message text cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidCursor        = errors.New("invalid pagination cursor")
	ErrInvalidSender        = errors.New("only the brand or the influencer of a deal can send messages")
	ErrSeqTaken             = errors.New("message order key already taken, retry")
)
