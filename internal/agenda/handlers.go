package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/store"
)

type proactiveHandler struct{ a *Agenda }

func (h proactiveHandler) Fire(ctx context.Context, key countdown.Key) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{EntityID: logger.Ptr(key.ID)})
	return h.a.fireProactive(ctx, key.ID)
}

func (h proactiveHandler) Persist(ctx context.Context, key countdown.Key, at time.Time) error {
	return h.a.deps.Entities.SetNextFire(ctx, key.ID, at)
}

func (h proactiveHandler) Clear(ctx context.Context, key countdown.Key) error {
	return ignoreMissing(h.a.deps.Entities.ClearNextFire(ctx, key.ID))
}

// Complete is unreachable for interval slots.
func (h proactiveHandler) Complete(context.Context, countdown.Key) error {
	return nil
}

// fireProactive delivers to the entity's 1:1 conversation. A busy
// conversation is skipped: the user is already talking to the entity.
func (a *Agenda) fireProactive(ctx context.Context, entityID int64) error {
	e, err := a.deps.Entities.GetByID(ctx, entityID)
	if err != nil {
		return fmt.Errorf("get entity: %w", err)
	}
	conv, err := a.deps.Conversations.FindSingle(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		slog.InfoContext(ctx, "entity has no 1:1 conversation, skipping proactive message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}

	prompt := strings.TrimSpace(e.Proactive.TriggerPrompt)
	if prompt == "" {
		prompt = DefaultTriggerPrompt
	}
	err = a.deps.Brain.Originate(ctx, brain.Origination{
		ConversationID: conv.ID,
		EntityID:       e.ID,
		Prompt:         prompt,
		Kind:           model.MessageKindProactive,
	})
	if errors.Is(err, brain.ErrConversationBusy) {
		slog.InfoContext(ctx, "conversation busy, skipping proactive message", "conversation_id", conv.ID)
		return nil
	}
	return err
}

type reminderHandler struct{ a *Agenda }

// Fire retries later while the conversation is busy so reminders are not lost.
func (h reminderHandler) Fire(ctx context.Context, key countdown.Key) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TaskID: logger.Ptr(key.ID)})
	task, err := h.a.deps.Tasks.GetByID(ctx, key.ID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task.Completed {
		return nil
	}
	err = h.a.deps.Brain.Originate(ctx, brain.Origination{
		ConversationID: task.ConversationID,
		EntityID:       task.EntityID,
		Message:        task.Message,
		Prompt:         task.Prompt,
		Kind:           model.MessageKindReminder,
	})
	if errors.Is(err, brain.ErrConversationBusy) {
		return fmt.Errorf("%w: %v", countdown.ErrRetry, err)
	}
	return err
}

func (h reminderHandler) Persist(ctx context.Context, key countdown.Key, at time.Time) error {
	return h.a.deps.Tasks.SetNextFire(ctx, key.ID, at)
}

func (h reminderHandler) Clear(ctx context.Context, key countdown.Key) error {
	return ignoreMissing(h.a.deps.Tasks.ClearNextFire(ctx, key.ID))
}

func (h reminderHandler) Complete(ctx context.Context, key countdown.Key) error {
	return ignoreMissing(h.a.deps.Tasks.Complete(ctx, key.ID, h.a.deps.Now()))
}

// ignoreMissing treats a row deleted under the scheduler as already cleared.
func ignoreMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
