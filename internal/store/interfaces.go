package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/chorus/internal/model"
)

var ErrNotFound = errors.New("not found")

type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	List(ctx context.Context, limit int) ([]model.Conversation, error)
	// FindSingle returns the live 1:1 conversation with the entity.
	FindSingle(ctx context.Context, entityID int64) (*model.Conversation, error)
	// RecordActivity persists speaker counters and the last-message preview.
	RecordActivity(ctx context.Context, conv *model.Conversation) error
	SoftDelete(ctx context.Context, id int64) error
}

type MessageStore interface {
	Append(ctx context.Context, msg *model.Message) error
	// RecentRounds returns up to 2*rounds messages, oldest first.
	RecentRounds(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error)
	// List pages backwards from beforeID (0 = newest), returning oldest first.
	List(ctx context.Context, conversationID, beforeID int64, limit int) ([]model.Message, error)
	Count(ctx context.Context, conversationID int64) (int, error)
}

type EntityStore interface {
	Create(ctx context.Context, entity *model.Entity) error
	GetByID(ctx context.Context, id int64) (*model.Entity, error)
	GetMany(ctx context.Context, ids []int64) ([]model.Entity, error)
	List(ctx context.Context) ([]model.Entity, error)
	// UpdateProactive replaces the proactive config and clears its next fire time.
	UpdateProactive(ctx context.Context, id int64, cfg model.ProactiveConfig) error
	SetNextFire(ctx context.Context, id int64, at time.Time) error
	ClearNextFire(ctx context.Context, id int64) error
	AppendMemory(ctx context.Context, entityID int64, items []string) error
	ClearMemory(ctx context.Context, entityID int64) error
}

type TaskStore interface {
	Create(ctx context.Context, task *model.ScheduledTask) error
	GetByID(ctx context.Context, id int64) (*model.ScheduledTask, error)
	ListOpen(ctx context.Context) ([]model.ScheduledTask, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]model.ScheduledTask, error)
	SetNextFire(ctx context.Context, id int64, at time.Time) error
	ClearNextFire(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, at time.Time) error
}

type SettingsStore interface {
	// QuietHours returns ErrNotFound when the window was never stored.
	QuietHours(ctx context.Context) (*model.QuietHours, error)
	SetQuietHours(ctx context.Context, q model.QuietHours) error
}
