package service

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

// IDGenerator hands out message ids
type IDGenerator interface {
	Next() int64
}

// MessageConfig holds message limits
type MessageConfig struct {
	MaxLength       int
	DefaultPageSize int
	MaxPageSize     int
}

// Messages is the append-only message log of deal conversations.
// Callers authorize the sender against the deal first.
type Messages struct {
	store         store.Store
	conversations *Conversations
	ids           IDGenerator
	waker         notify.Waker
	cfg           MessageConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewMessages creates a message store
func NewMessages(st store.Store, conversations *Conversations, ids IDGenerator, waker notify.Waker, cfg MessageConfig, logger *slog.Logger) *Messages {
	if waker == nil {
		waker = notify.NopWaker{}
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = entity.DefaultMaxMessageLength
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 200
	}
	return &Messages{
		store:         st,
		conversations: conversations,
		ids:           ids,
		waker:         waker,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// AppendInput represents a new message
type AppendInput struct {
	DealID      string
	SenderRole  identity.Role
	SenderID    string
	RecipientID string
	Content     string
}

// Append stores a message and bumps the recipient's unread counter in one transaction.
// The conversation is created on the first message.
func (s *Messages) Append(ctx context.Context, in AppendInput) (*entity.Message, error) {
	if !in.SenderRole.IsParticipantRole() || in.SenderID == "" {
		return nil, entity.ErrInvalidSender
	}
	if err := entity.ValidateContent(in.Content, s.cfg.MaxLength); err != nil {
		return nil, err
	}

	var msg *entity.Message
	err := s.store.WithTx(ctx, func(repos store.Repositories) error {
		conv, _, err := s.conversations.ensure(ctx, repos, in.DealID)
		if err != nil {
			return err
		}

		now := s.now()
		m := &entity.Message{
			ID:             s.ids.Next(),
			ConversationID: conv.ID,
			Seq:            conv.NextSeq(),
			SenderRole:     in.SenderRole,
			SenderID:       in.SenderID,
			Content:        in.Content,
			CreatedAt:      now,
		}
		if err := repos.Messages().Insert(ctx, m); err != nil {
			return err
		}
		if err := s.conversations.RecordIncomingMessage(ctx, repos, conv, m); err != nil {
			return err
		}

		ev, err := notify.NewEvent(notify.TopicMessageCreated, in.DealID, entity.NewMessageNotice{
			DealID:         in.DealID,
			ConversationID: conv.ID,
			MessageID:      m.ID,
			Seq:            m.Seq,
			SenderRole:     m.SenderRole,
			SenderID:       m.SenderID,
			RecipientRole:  m.SenderRole.Counterpart(),
			RecipientID:    in.RecipientID,
			Preview:        entity.Preview(m.Content, 140),
			At:             now,
		}, now)
		if err != nil {
			return err
		}
		if err := repos.Outbox().Enqueue(ctx, ev); err != nil {
			return err
		}

		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.waker.Notify()

	s.logger.Debug("message appended",
		"deal_id", in.DealID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq,
		"role", msg.SenderRole,
	)
	return msg, nil
}

// ListInput selects a page of a deal's messages
type ListInput struct {
	DealID string
	Cursor string
	Limit  int
	Order  entity.Order
}

// List returns one page. The cursor is the last order key of the previous page, so
// messages appended meanwhile never shift a page or show up twice. NextCursor is set on
// every page, also the last one, so a reader at the tail can poll from where it stopped.
func (s *Messages) List(ctx context.Context, in ListInput) (*entity.Page, error) {
	after, err := entity.DecodeCursor(in.Cursor)
	if err != nil {
		return nil, err
	}
	order := in.Order
	if order != entity.OrderDesc {
		order = entity.OrderAsc
	}
	limit := in.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	limit = min(limit, s.cfg.MaxPageSize)

	page := &entity.Page{Messages: []entity.Message{}, NextCursor: in.Cursor}

	conv, err := s.store.Conversations().GetByDealID(ctx, in.DealID)
	if err != nil || conv == nil {
		return page, err
	}

	msgs, err := s.store.Messages().List(ctx, conv.ID, entity.ListQuery{After: after, Limit: limit + 1, Order: order})
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		page.HasMore = true
	}
	if len(msgs) > 0 {
		page.Messages = msgs
		page.NextCursor = entity.EncodeCursor(msgs[len(msgs)-1].Seq)
	}
	return page, nil
}

// Iterate walks a deal's messages oldest first, fetching pageSize at a time. The sequence
// stops at the first error, which it yields.
func (s *Messages) Iterate(ctx context.Context, dealID string, pageSize int) iter.Seq2[entity.Message, error] {
	return func(yield func(entity.Message, error) bool) {
		cursor := ""
		for {
			page, err := s.List(ctx, ListInput{DealID: dealID, Cursor: cursor, Limit: pageSize})
			if err != nil {
				yield(entity.Message{}, err)
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if !page.HasMore {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// CountUnread recounts reader's unread messages from the log itself
func (s *Messages) CountUnread(ctx context.Context, dealID string, reader identity.Role) (int, error) {
	conv, err := s.store.Conversations().GetByDealID(ctx, dealID)
	if err != nil || conv == nil {
		return 0, err
	}
	return s.store.Messages().CountUnread(ctx, conv.ID, reader.Counterpart())
}
