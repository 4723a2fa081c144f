package worker

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

type EngineDispatcher struct {
	brain  Submitter
	agenda Scheduling
	cache  EntityCache
}

type DispatcherOption func(*EngineDispatcher)

// WithEntityCache drops cached entities when the API reports a change.
func WithEntityCache(c EntityCache) DispatcherOption {
	return func(d *EngineDispatcher) { d.cache = c }
}

func NewDispatcher(b Submitter, a Scheduling, opts ...DispatcherOption) *EngineDispatcher {
	d := &EngineDispatcher{brain: b, agenda: a}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *EngineDispatcher) Dispatch(ctx context.Context, msg queue.Message) error {
	var err error
	switch msg.TaskType {
	case queue.TaskTypeUserMessage:
		err = d.brain.Submit(ctx, *msg.ConversationID, msg.Content)
	case queue.TaskTypeEntityChanged:
		if d.cache != nil {
			d.cache.Invalidate(*msg.EntityID)
		}
		err = d.agenda.SyncEntity(ctx, *msg.EntityID)
	case queue.TaskTypeReminderChanged:
		err = d.agenda.SyncReminder(ctx, *msg.TaskID)
	case queue.TaskTypeProactiveNow:
		err = d.agenda.TriggerProactive(ctx, *msg.EntityID)
	case queue.TaskTypeSettingsChanged:
		err = d.agenda.ReloadSettings(ctx)
	default:
		return brain.NewFatalError(fmt.Errorf("unknown task_type %q", msg.TaskType))
	}
	return classify(err)
}

// classify keeps brain's classification and marks missing rows as fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *brain.DispatchError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return brain.NewFatalError(err)
	}
	// A firing slot is already delivering; triggering again sends nothing.
	if errors.Is(err, countdown.ErrBusy) {
		return brain.NewFatalError(err)
	}
	return brain.NewRetryableError(err)
}
