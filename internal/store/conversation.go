package store

import (
	"context"
	"errors"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/model"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, kind, title, member_ids, allow_ai_to_ai, last_speaker_id, speaker_streak,
	last_message_preview, last_message_at, created_at, deleted_at`

type conversationStore struct {
	db db.DBTX
}

func newConversationStore(q db.DBTX) ConversationStore {
	return &conversationStore{db: q}
}

func (s *conversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, kind, title, member_ids, allow_ai_to_ai)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+conversationColumns,
		conv.ID, string(conv.Kind), conv.Title, conv.MemberIDs, conv.AllowAIToAI)
	created, err := scanConversation(row)
	if err != nil {
		return err
	}
	*conv = *created
	return nil
}

func (s *conversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND deleted_at IS NULL`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (s *conversationStore) List(ctx context.Context, limit int) ([]model.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE deleted_at IS NULL
		ORDER BY last_message_at DESC NULLS LAST, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Conversation, error) {
		conv, err := scanConversation(row)
		if err != nil {
			return model.Conversation{}, err
		}
		return *conv, nil
	})
}

func (s *conversationStore) FindSingle(ctx context.Context, entityID int64) (*model.Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE kind = 'single' AND deleted_at IS NULL AND member_ids @> ARRAY[$1::BIGINT]
		ORDER BY id
		LIMIT 1`, entityID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (s *conversationStore) RecordActivity(ctx context.Context, conv *model.Conversation) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET last_speaker_id = $2, speaker_streak = $3, last_message_preview = $4, last_message_at = $5
		WHERE id = $1`,
		conv.ID, conv.LastSpeakerID, conv.SpeakerStreak, conv.LastMessagePreview, conv.LastMessageAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *conversationStore) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c    model.Conversation
		kind string
	)
	err := row.Scan(&c.ID, &kind, &c.Title, &c.MemberIDs, &c.AllowAIToAI, &c.LastSpeakerID, &c.SpeakerStreak,
		&c.LastMessagePreview, &c.LastMessageAt, &c.CreatedAt, &c.DeletedAt)
	if err != nil {
		return nil, err
	}
	c.Kind = model.ConversationKind(kind)
	return &c, nil
}
