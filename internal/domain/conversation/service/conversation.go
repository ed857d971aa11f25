package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/store"
)

// Conversations keeps the one conversation of each deal and its unread counters.
// Callers authorize the actor against the deal first.
type Conversations struct {
	store  store.Store
	waker  notify.Waker
	logger *slog.Logger
	now    func() time.Time
}

// NewConversations creates a conversation store
func NewConversations(st store.Store, waker notify.Waker, logger *slog.Logger) *Conversations {
	if waker == nil {
		waker = notify.NopWaker{}
	}
	return &Conversations{store: st, waker: waker, logger: logger, now: time.Now}
}

// GetOrCreate returns the deal's conversation, creating it with zero counters if needed
func (s *Conversations) GetOrCreate(ctx context.Context, dealID string) (*entity.Conversation, error) {
	conv, err := s.store.Conversations().GetByDealID(ctx, dealID)
	if err != nil || conv != nil {
		return conv, err
	}

	err = s.store.WithTx(ctx, func(repos store.Repositories) error {
		c, created, err := s.ensure(ctx, repos, dealID)
		if err != nil {
			return err
		}
		if created {
			s.logger.Debug("conversation created", "deal_id", dealID, "conversation_id", c.ID)
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ensure returns the deal's conversation locked inside the transaction
func (s *Conversations) ensure(ctx context.Context, repos store.Repositories, dealID string) (*entity.Conversation, bool, error) {
	return repos.Conversations().EnsureForDeal(ctx, entity.NewConversation(uuid.New().String(), dealID, s.now()))
}

// RecordIncomingMessage bumps the recipient's unread counter and replaces the summary.
// It runs in the transaction that inserted msg.
func (s *Conversations) RecordIncomingMessage(ctx context.Context, repos store.Repositories, conv *entity.Conversation, msg *entity.Message) error {
	conv.RecordIncoming(msg)
	return repos.Conversations().Update(ctx, conv)
}

// MarkReadInput represents a read receipt
type MarkReadInput struct {
	DealID string
	Reader identity.Role
	// UpTo is the newest order key the reader has seen; zero means everything so far
	UpTo int64
}

// MarkRead stamps the counterpart's unread messages up to the watermark and clears the
// reader's counter by exactly that many. Messages appended after the watermark stay unread.
func (s *Conversations) MarkRead(ctx context.Context, in MarkReadInput) (int, error) {
	if !in.Reader.IsParticipantRole() {
		return 0, entity.ErrInvalidSender
	}

	cleared := 0
	err := s.store.WithTx(ctx, func(repos store.Repositories) error {
		conv, err := repos.Conversations().LockByDealID(ctx, in.DealID)
		if err != nil || conv == nil {
			return err
		}

		watermark := conv.LastSeq
		if in.UpTo > 0 && in.UpTo < watermark {
			watermark = in.UpTo
		}

		now := s.now()
		cleared, err = repos.Messages().MarkRead(ctx, conv.ID, in.Reader.Counterpart(), watermark, now)
		if err != nil || cleared == 0 {
			return err
		}

		conv.ClearUnread(in.Reader, cleared, now)
		if err := repos.Conversations().Update(ctx, conv); err != nil {
			return err
		}

		ev, err := notify.NewEvent(notify.TopicMessagesRead, in.DealID, entity.ReadNotice{
			DealID:         in.DealID,
			ConversationID: conv.ID,
			Reader:         in.Reader,
			UpTo:           watermark,
			Cleared:        cleared,
			At:             now,
		}, now)
		if err != nil {
			return err
		}
		return repos.Outbox().Enqueue(ctx, ev)
	})
	if err != nil {
		return 0, err
	}

	if cleared > 0 {
		s.waker.Notify()
		s.logger.Debug("messages read", "deal_id", in.DealID, "reader", in.Reader, "cleared", cleared)
	}
	return cleared, nil
}

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

// ListForParticipant returns the conversations of the actor's deals, newest activity first
func (s *Conversations) ListForParticipant(ctx context.Context, actor *identity.Identity, search string, limit, offset int) ([]entity.Summary, error) {
	if !actor.Role.IsParticipantRole() {
		return []entity.Summary{}, nil
	}
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	summaries, err := s.store.Conversations().ListForParticipant(ctx, entity.ParticipantFilter{
		Role:      actor.Role,
		ProfileID: actor.ProfileID,
		Search:    strings.TrimSpace(search),
		Limit:     min(limit, maxInboxLimit),
		Offset:    max(offset, 0),
	})
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []entity.Summary{}
	}
	return summaries, nil
}
