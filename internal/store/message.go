package store

import (
	"context"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/model"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, sender_kind, entity_id, content, kind, created_at`

type messageStore struct {
	db db.DBTX
}

func newMessageStore(q db.DBTX) MessageStore {
	return &messageStore{db: q}
}

func (s *messageStore) Append(ctx context.Context, msg *model.Message) error {
	if msg.Kind == "" {
		msg.Kind = model.MessageKindChat
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_kind, entity_id, content, kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		msg.ID, msg.ConversationID, string(msg.SenderKind), msg.EntityID, msg.Content, string(msg.Kind),
	).Scan(&msg.CreatedAt)
}

// Snowflake ids are time-ordered, so id order is chronological order.
func (s *messageStore) RecentRounds(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error) {
	if rounds <= 0 {
		return nil, nil
	}
	return s.List(ctx, conversationID, 0, rounds*2)
}

func (s *messageStore) List(ctx context.Context, conversationID, beforeID int64, limit int) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = $1 AND ($2::BIGINT = 0 OR id < $2::BIGINT)
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC`, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

func (s *messageStore) Count(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	return n, err
}

func scanMessage(row pgx.CollectableRow) (model.Message, error) {
	var (
		m            model.Message
		sender, kind string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &sender, &m.EntityID, &m.Content, &kind, &m.CreatedAt); err != nil {
		return model.Message{}, err
	}
	m.SenderKind = model.SenderKind(sender)
	m.Kind = model.MessageKind(kind)
	return m, nil
}
