package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/identity"
)

// MessagePostgres implements MessageRepository for PostgreSQL
type MessagePostgres struct {
	db database.Querier
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(db database.Querier) *MessagePostgres {
	return &MessagePostgres{db: db}
}

// Insert appends a message
func (r *MessagePostgres) Insert(ctx context.Context, msg *entity.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, seq, sender_role, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Seq,
		msg.SenderRole,
		msg.SenderID,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("inserting message seq %d: %w", msg.Seq, entity.ErrSeqTaken)
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// List returns one page of messages by order key
func (r *MessagePostgres) List(ctx context.Context, conversationID string, q entity.ListQuery) ([]entity.Message, error) {
	query := `
		SELECT id, conversation_id, seq, sender_role, sender_id, content, created_at, read_at
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`
	if q.Order == entity.OrderDesc {
		query = `
			SELECT id, conversation_id, seq, sender_role, sender_id, content, created_at, read_at
			FROM messages
			WHERE conversation_id = $1 AND ($2::bigint = 0 OR seq < $2::bigint)
			ORDER BY seq DESC
			LIMIT $3
		`
	}

	rows, err := r.db.Query(ctx, query, conversationID, q.After, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		var msg entity.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Seq,
			&msg.SenderRole,
			&msg.SenderID,
			&msg.Content,
			&msg.CreatedAt,
			&msg.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkRead stamps unread messages up to the watermark
func (r *MessagePostgres) MarkRead(ctx context.Context, conversationID string, senderRole identity.Role, upToSeq int64, at time.Time) (int, error) {
	query := `
		UPDATE messages SET read_at = $4
		WHERE conversation_id = $1 AND sender_role = $2 AND seq <= $3 AND read_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, conversationID, senderRole, upToSeq, at)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// CountUnread counts unread messages from one side
func (r *MessagePostgres) CountUnread(ctx context.Context, conversationID string, senderRole identity.Role) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND sender_role = $2 AND read_at IS NULL",
		conversationID, senderRole,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}
