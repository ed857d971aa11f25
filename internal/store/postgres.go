package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/dealroom/internal/database"
	convdao "github.com/vadim/dealroom/internal/domain/conversation/dao"
	dealdao "github.com/vadim/dealroom/internal/domain/deal/dao"
	"github.com/vadim/dealroom/internal/notify"
)

type pgRepositories struct {
	deals         *dealdao.DealPostgres
	events        *dealdao.EventPostgres
	conversations *convdao.ConversationPostgres
	messages      *convdao.MessagePostgres
	outbox        *notify.OutboxPostgres
}

func newPgRepositories(db database.Querier) *pgRepositories {
	return &pgRepositories{
		deals:         dealdao.NewDealPostgres(db),
		events:        dealdao.NewEventPostgres(db),
		conversations: convdao.NewConversationPostgres(db),
		messages:      convdao.NewMessagePostgres(db),
		outbox:        notify.NewOutboxPostgres(db),
	}
}

func (r *pgRepositories) Deals() dealdao.DealRepository {
	return r.deals
}

func (r *pgRepositories) DealEvents() dealdao.EventRepository {
	return r.events
}

func (r *pgRepositories) Conversations() convdao.ConversationRepository {
	return r.conversations
}

func (r *pgRepositories) Messages() convdao.MessageRepository {
	return r.messages
}

func (r *pgRepositories) Outbox() notify.OutboxRepository {
	return r.outbox
}

// Postgres is the pgx-backed Store
type Postgres struct {
	*pgRepositories
	pool *pgxpool.Pool
}

// NewPostgres creates a Store on top of a connection pool
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pgRepositories: newPgRepositories(pool),
		pool:           pool,
	}
}

// WithTx commits when fn returns nil and rolls back otherwise
func (s *Postgres) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(newPgRepositories(tx))
	})
}

// Ping checks the database connection
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
