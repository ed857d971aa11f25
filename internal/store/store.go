// Package store groups the repositories of every domain behind one transactional unit of work.
package store

import (
	"context"

	convdao "github.com/vadim/dealroom/internal/domain/conversation/dao"
	dealdao "github.com/vadim/dealroom/internal/domain/deal/dao"
	"github.com/vadim/dealroom/internal/notify"
)

// Repositories exposes the repositories a core operation needs
type Repositories interface {
	Deals() dealdao.DealRepository
	DealEvents() dealdao.EventRepository
	Conversations() convdao.ConversationRepository
	Messages() convdao.MessageRepository
	Outbox() notify.OutboxRepository
}

// Store runs functions within a transaction and provides repositories bound to it.
// The repositories of the Store itself run outside any transaction.
type Store interface {
	Repositories
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
	Ping(ctx context.Context) error
}
