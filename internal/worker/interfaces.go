package worker

import (
	"context"

	"basegraph.app/chorus/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Dispatcher applies one stream task to the engine. Errors are classified
// with brain.DispatchError; anything unclassified is retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg queue.Message) error
}

// Submitter feeds user fragments to the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, conversationID int64, fragment string) error
}

// Scheduling keeps the countdown slots and the quiet window in sync with the
// stores after the API changed them.
type Scheduling interface {
	SyncEntity(ctx context.Context, entityID int64) error
	SyncReminder(ctx context.Context, taskID int64) error
	TriggerProactive(ctx context.Context, entityID int64) error
	ReloadSettings(ctx context.Context) error
}

type EntityCache interface {
	Invalidate(id int64)
}
