package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vadim/dealroom/internal/domain/access"
	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/conversation/service"
	dealentity "github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/storage"
)

// ErrExportDisabled is returned when no transcript storage is configured
var ErrExportDisabled = errors.New("transcript export is not configured")

// DealReader resolves a deal the actor may view.
// This interface is defined here (consumer) not in the deal package (provider)
type DealReader interface {
	Get(ctx context.Context, actor *identity.Identity, id string) (*dealentity.Deal, error)
}

// TranscriptArchiver stores exported transcripts
type TranscriptArchiver interface {
	Archive(ctx context.Context, dealID string, body []byte) (*storage.ArchiveOutput, error)
}

// Policy orchestrates deal messaging use-cases
type Policy struct {
	deals         DealReader
	guard         *access.Guard
	conversations *service.Conversations
	messages      *service.Messages
	archiver      TranscriptArchiver
	logger        *slog.Logger
}

// New creates a new conversation policy. archiver may be nil.
func New(
	deals DealReader,
	guard *access.Guard,
	conversations *service.Conversations,
	messages *service.Messages,
	archiver TranscriptArchiver,
	logger *slog.Logger,
) *Policy {
	return &Policy{
		deals:         deals,
		guard:         guard,
		conversations: conversations,
		messages:      messages,
		archiver:      archiver,
		logger:        logger,
	}
}

// ListConversationsInput represents input for the caller's inbox
type ListConversationsInput struct {
	Search string
	Limit  int
	Offset int
}

// ListConversations returns the caller's conversations, newest activity first
func (p *Policy) ListConversations(ctx context.Context, actor *identity.Identity, in ListConversationsInput) ([]entity.Summary, error) {
	if err := actor.Validate(); err != nil {
		return nil, dealentity.ErrUnauthenticated
	}
	return p.conversations.ListForParticipant(ctx, actor, in.Search, in.Limit, in.Offset)
}

// GetMessagesInput represents input for reading a deal's messages
type GetMessagesInput struct {
	DealID string
	Cursor string
	Limit  int
	Order  entity.Order
}

// GetMessages returns one page of a deal's conversation
func (p *Policy) GetMessages(ctx context.Context, actor *identity.Identity, in GetMessagesInput) (*entity.Page, error) {
	if _, err := p.deals.Get(ctx, actor, in.DealID); err != nil {
		return nil, err
	}
	return p.messages.List(ctx, service.ListInput{
		DealID: in.DealID,
		Cursor: in.Cursor,
		Limit:  in.Limit,
		Order:  in.Order,
	})
}

// SendMessage appends the caller's message to the deal's conversation
func (p *Policy) SendMessage(ctx context.Context, actor *identity.Identity, dealID, content string) (*entity.Message, error) {
	d, err := p.deals.Get(ctx, actor, dealID)
	if err != nil {
		return nil, err
	}
	if err := p.guard.AuthorizeMessage(actor, d); err != nil {
		return nil, err
	}

	return p.messages.Append(ctx, service.AppendInput{
		DealID:      d.ID,
		SenderRole:  actor.Role,
		SenderID:    actor.ProfileID,
		RecipientID: d.ParticipantID(actor.Role.Counterpart()),
		Content:     content,
	})
}

// MarkReadOutput reports what a read receipt cleared
type MarkReadOutput struct {
	Cleared int `json:"cleared"`
	Unread  int `json:"unread"`
}

// MarkRead clears the caller's unread messages up to upTo (zero: all so far)
func (p *Policy) MarkRead(ctx context.Context, actor *identity.Identity, dealID string, upTo int64) (*MarkReadOutput, error) {
	d, err := p.deals.Get(ctx, actor, dealID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsParticipantRole() {
		return nil, fmt.Errorf("%w: only the brand or the influencer of a deal have read receipts", dealentity.ErrForbidden)
	}
	if upTo < 0 {
		return nil, entity.ErrInvalidCursor
	}

	cleared, err := p.conversations.MarkRead(ctx, service.MarkReadInput{DealID: d.ID, Reader: actor.Role, UpTo: upTo})
	if err != nil {
		return nil, err
	}
	unread, err := p.messages.CountUnread(ctx, d.ID, actor.Role)
	if err != nil {
		return nil, err
	}

	return &MarkReadOutput{Cleared: cleared, Unread: unread}, nil
}

// Transcript is the exported form of a deal conversation
type Transcript struct {
	DealID        string                `json:"deal_id"`
	DealTitle     string                `json:"deal_title"`
	CampaignTitle string                `json:"campaign_title"`
	Status        dealentity.DealStatus `json:"status"`
	ExportedAt    time.Time             `json:"exported_at"`
	ExportedBy    identity.Role         `json:"exported_by"`
	Messages      []entity.Message      `json:"messages"`
}

const exportPageSize = 200

// ExportTranscript archives the whole conversation of a deal
func (p *Policy) ExportTranscript(ctx context.Context, actor *identity.Identity, dealID string) (*storage.ArchiveOutput, error) {
	d, err := p.deals.Get(ctx, actor, dealID)
	if err != nil {
		return nil, err
	}
	if p.archiver == nil {
		return nil, ErrExportDisabled
	}

	t := Transcript{
		DealID:        d.ID,
		DealTitle:     d.Title,
		CampaignTitle: d.CampaignTitle,
		Status:        d.Status,
		ExportedAt:    time.Now().UTC(),
		ExportedBy:    actor.Role,
		Messages:      []entity.Message{},
	}
	for msg, err := range p.messages.Iterate(ctx, d.ID, exportPageSize) {
		if err != nil {
			return nil, fmt.Errorf("reading messages: %w", err)
		}
		t.Messages = append(t.Messages, msg)
	}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling transcript: %w", err)
	}

	out, err := p.archiver.Archive(ctx, d.ID, body)
	if err != nil {
		return nil, err
	}

	p.logger.Info("transcript exported", "deal_id", d.ID, "messages", len(t.Messages), "key", out.Key)
	return out, nil
}
