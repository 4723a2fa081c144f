package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

type CreateReminderParams struct {
	ConversationID int64
	EntityID       int64
	Message        string
	Prompt         string
	TriggerAt      time.Time
	Repeat         model.Repeat
}

type ReminderService interface {
	Create(ctx context.Context, params CreateReminderParams) (*model.ScheduledTask, error)
	List(ctx context.Context, conversationID int64) ([]model.ScheduledTask, error)
	Cancel(ctx context.Context, id int64) error
}

type reminderService struct {
	convs    store.ConversationStore
	tasks    store.TaskStore
	producer queue.Producer
	now      func() time.Time
}

func NewReminderService(convs store.ConversationStore, tasks store.TaskStore, producer queue.Producer) ReminderService {
	return &reminderService{convs: convs, tasks: tasks, producer: producer, now: time.Now}
}

func (s *reminderService) Create(ctx context.Context, params CreateReminderParams) (*model.ScheduledTask, error) {
	message, prompt := strings.TrimSpace(params.Message), strings.TrimSpace(params.Prompt)
	if (message == "") == (prompt == "") {
		return nil, invalid("exactly one of message and prompt is required")
	}
	if params.TriggerAt.IsZero() {
		return nil, invalid("trigger_at is required")
	}
	repeat := params.Repeat
	if repeat == "" {
		repeat = model.RepeatNone
	}
	if !repeat.Valid() {
		return nil, invalid("unknown repeat %q", repeat)
	}

	conv, err := s.convs.GetByID(ctx, params.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(params.EntityID) {
		return nil, invalid("entity %d is not a member of conversation %d", params.EntityID, conv.ID)
	}

	task := &model.ScheduledTask{
		ID:             id.New(),
		ConversationID: conv.ID,
		EntityID:       params.EntityID,
		Message:        message,
		Prompt:         prompt,
		TriggerAt:      params.TriggerAt,
		Repeat:         repeat,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("creating reminder: %w", err)
	}
	slog.InfoContext(ctx, "reminder created", "task_id", task.ID, "trigger_at", task.TriggerAt, "repeat", task.Repeat)

	s.changed(ctx, task.ID)
	return task, nil
}

func (s *reminderService) List(ctx context.Context, conversationID int64) ([]model.ScheduledTask, error) {
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.tasks.ListByConversation(ctx, conversationID)
}

// Cancel completes the reminder so it never fires again.
func (s *reminderService) Cancel(ctx context.Context, id int64) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.Completed {
		return nil
	}
	if err := s.tasks.Complete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("completing reminder: %w", err)
	}
	slog.InfoContext(ctx, "reminder cancelled", "task_id", id)
	s.changed(ctx, id)
	return nil
}

func (s *reminderService) changed(ctx context.Context, id int64) {
	enqueue(ctx, s.producer, queue.Task{
		TaskType: queue.TaskTypeReminderChanged,
		TaskID:   &id,
	})
}
