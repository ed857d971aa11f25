package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	dealentity "github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// ConversationPostgres implements ConversationRepository for PostgreSQL
type ConversationPostgres struct {
	db database.Querier
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(db database.Querier) *ConversationPostgres {
	return &ConversationPostgres{db: db}
}

const conversationColumns = `
	id, deal_id, unread_count_brand, unread_count_influencer, last_seq,
	last_message_id, last_message_seq, last_message_content, last_message_sender_role,
	last_message_sender_id, last_message_at, created_at, updated_at`

// EnsureForDeal creates the conversation if missing and locks it
func (r *ConversationPostgres) EnsureForDeal(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, bool, error) {
	query := `
		INSERT INTO conversations (id, deal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (deal_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, conv.ID, conv.DealID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting conversation: %w", err)
	}

	stored, err := r.LockByDealID(ctx, conv.DealID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("conversation for deal %s vanished after insert", conv.DealID)
	}

	return stored, tag.RowsAffected() == 1, nil
}

// GetByDealID retrieves a deal's conversation
func (r *ConversationPostgres) GetByDealID(ctx context.Context, dealID string) (*entity.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE deal_id = $1`
	return r.get(ctx, query, dealID)
}

// LockByDealID retrieves a deal's conversation with FOR UPDATE
func (r *ConversationPostgres) LockByDealID(ctx context.Context, dealID string) (*entity.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE deal_id = $1 FOR UPDATE`
	return r.get(ctx, query, dealID)
}

func (r *ConversationPostgres) get(ctx context.Context, query, dealID string) (*entity.Conversation, error) {
	conv, err := scanConversation(r.db.QueryRow(ctx, query, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return conv, nil
}

// Update persists the mutable conversation fields
func (r *ConversationPostgres) Update(ctx context.Context, conv *entity.Conversation) error {
	query := `
		UPDATE conversations SET
			unread_count_brand = $2,
			unread_count_influencer = $3,
			last_seq = $4,
			last_message_id = $5,
			last_message_seq = $6,
			last_message_content = $7,
			last_message_sender_role = $8,
			last_message_sender_id = $9,
			last_message_at = $10,
			updated_at = $11
		WHERE id = $1
	`

	var (
		msgID, msgSeq             *int64
		content, senderRole, from *string
		at                        *time.Time
	)
	if lm := conv.LastMessage; lm != nil {
		role := string(lm.SenderRole)
		msgID, msgSeq = &lm.MessageID, &lm.Seq
		content, senderRole, from = &lm.Content, &role, &lm.SenderID
		at = &lm.CreatedAt
	}

	tag, err := r.db.Exec(ctx, query,
		conv.ID,
		conv.UnreadCountBrand,
		conv.UnreadCountInfluencer,
		conv.LastSeq,
		msgID,
		msgSeq,
		content,
		senderRole,
		from,
		at,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}

	return nil
}

// ListForParticipant returns conversation summaries for one side of the deals
func (r *ConversationPostgres) ListForParticipant(ctx context.Context, filter entity.ParticipantFilter) ([]entity.Summary, error) {
	var ownerColumn, unreadColumn, counterpartColumn string
	switch filter.Role {
	case identity.RoleBrand:
		ownerColumn, unreadColumn, counterpartColumn = "d.brand_id", "c.unread_count_brand", "d.influencer_name"
	case identity.RoleInfluencer:
		ownerColumn, unreadColumn, counterpartColumn = "d.influencer_id", "c.unread_count_influencer", "d.brand_name"
	default:
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.deal_id, d.title, d.campaign_title, d.status, %[3]s, %[2]s,
		       c.last_message_id, c.last_message_seq, c.last_message_content,
		       c.last_message_sender_role, c.last_message_sender_id, c.last_message_at,
		       c.created_at
		FROM conversations c
		JOIN deals d ON d.id = c.deal_id
		WHERE %[1]s = $1
		  AND ($2 = '' OR strpos(lower(%[3]s), lower($2)) > 0
		               OR strpos(lower(d.title), lower($2)) > 0
		               OR strpos(lower(d.campaign_title), lower($2)) > 0)
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC, c.id
		LIMIT $3 OFFSET $4
	`, ownerColumn, unreadColumn, counterpartColumn)

	rows, err := r.db.Query(ctx, query, filter.ProfileID, filter.Search, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []entity.Summary
	for rows.Next() {
		var s entity.Summary
		var status string
		var lm lastMessageColumns
		if err := rows.Scan(
			&s.ConversationID,
			&s.DealID,
			&s.DealTitle,
			&s.CampaignTitle,
			&status,
			&s.CounterpartName,
			&s.UnreadCount,
			&lm.id,
			&lm.seq,
			&lm.content,
			&lm.senderRole,
			&lm.senderID,
			&lm.at,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation summary: %w", err)
		}
		s.DealStatus = dealentity.DealStatus(status)
		s.LastMessage = lm.summary()
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// lastMessageColumns holds the nullable last_message_* columns
type lastMessageColumns struct {
	id         *int64
	seq        *int64
	content    *string
	senderRole *string
	senderID   *string
	at         *time.Time
}

func (c lastMessageColumns) summary() *entity.MessageSummary {
	if c.id == nil {
		return nil
	}
	s := &entity.MessageSummary{MessageID: *c.id}
	if c.seq != nil {
		s.Seq = *c.seq
	}
	if c.content != nil {
		s.Content = *c.content
	}
	if c.senderRole != nil {
		s.SenderRole = identity.Role(*c.senderRole)
	}
	if c.senderID != nil {
		s.SenderID = *c.senderID
	}
	if c.at != nil {
		s.CreatedAt = *c.at
	}
	return s
}

func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var conv entity.Conversation
	var lm lastMessageColumns

	err := row.Scan(
		&conv.ID,
		&conv.DealID,
		&conv.UnreadCountBrand,
		&conv.UnreadCountInfluencer,
		&conv.LastSeq,
		&lm.id,
		&lm.seq,
		&lm.content,
		&lm.senderRole,
		&lm.senderID,
		&lm.at,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.LastMessage = lm.summary()

	return &conv, nil
}
