package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/model"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, conversation_id, entity_id, message, prompt, trigger_at, repeat,
	next_fire_at, completed, completed_at, created_at`

type taskStore struct {
	db db.DBTX
}

func newTaskStore(q db.DBTX) TaskStore {
	return &taskStore{db: q}
}

func (s *taskStore) Create(ctx context.Context, task *model.ScheduledTask) error {
	if task.Repeat == "" {
		task.Repeat = model.RepeatNone
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO scheduled_tasks (id, conversation_id, entity_id, message, prompt, trigger_at, repeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+taskColumns,
		task.ID, task.ConversationID, task.EntityID, task.Message, task.Prompt, task.TriggerAt, string(task.Repeat))
	created, err := scanTask(row)
	if err != nil {
		return err
	}
	*task = created
	return nil
}

func (s *taskStore) GetByID(ctx context.Context, id int64) (*model.ScheduledTask, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (s *taskStore) ListOpen(ctx context.Context) ([]model.ScheduledTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE NOT completed
		ORDER BY trigger_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectTask)
}

func (s *taskStore) ListByConversation(ctx context.Context, conversationID int64) ([]model.ScheduledTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE conversation_id = $1
		ORDER BY completed, trigger_at`, conversationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectTask)
}

func (s *taskStore) SetNextFire(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `UPDATE scheduled_tasks SET next_fire_at = $2 WHERE id = $1`, id, at)
}

func (s *taskStore) ClearNextFire(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scheduled_tasks SET next_fire_at = NULL WHERE id = $1`, id)
}

func (s *taskStore) Complete(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `
		UPDATE scheduled_tasks
		SET completed = TRUE, completed_at = $2, next_fire_at = NULL
		WHERE id = $1`, id, at)
}

func (s *taskStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectTask(row pgx.CollectableRow) (model.ScheduledTask, error) {
	return scanTask(row)
}

func scanTask(row pgx.Row) (model.ScheduledTask, error) {
	var (
		t      model.ScheduledTask
		repeat string
	)
	err := row.Scan(&t.ID, &t.ConversationID, &t.EntityID, &t.Message, &t.Prompt, &t.TriggerAt, &repeat,
		&t.NextFireAt, &t.Completed, &t.CompletedAt, &t.CreatedAt)
	t.Repeat = model.Repeat(repeat)
	return t, err
}
