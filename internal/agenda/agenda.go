// Package agenda binds the countdown scheduler to proactive messages and
// reminders and keeps the quiet window in sync with the stored settings.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/quiet"
	"basegraph.app/chorus/internal/store"
	"basegraph.app/chorus/internal/tuning"
)

const (
	KindProactive = "proactive"
	KindReminder  = "reminder"
)

// DefaultTriggerPrompt is used for entities without their own trigger prompt.
const DefaultTriggerPrompt = "Start a message to the user on your own: a greeting, a check-in or a suggestion. Stay in character and fit the recent conversation."

// Originator delivers engine-initiated messages.
type Originator interface {
	Originate(ctx context.Context, req brain.Origination) error
}

type Deps struct {
	Conversations store.ConversationStore
	Entities      store.EntityStore
	Tasks         store.TaskStore
	Settings      store.SettingsStore
	Brain         Originator
	Filter        *quiet.Filter
	Tuning        tuning.Source
	Supervisor    *background.Supervisor

	// Optional.
	Now func() time.Time
}

type Agenda struct {
	deps  Deps
	sched *countdown.Scheduler
}

// New builds the agenda and the scheduler it drives. The scheduler starts
// serving events once Run is called.
func New(deps Deps, opts ...countdown.Option) *Agenda {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &Agenda{deps: deps}
	handlers := map[string]countdown.Handler{
		KindProactive: proactiveHandler{a},
		KindReminder:  reminderHandler{a},
	}
	opts = append([]countdown.Option{countdown.WithClock(deps.Now)}, opts...)
	a.sched = countdown.New(handlers, deps.Filter, deps.Supervisor, opts...)
	return a
}

// Run loads the quiet window and every schedulable entry, then runs the
// scheduler until ctx is done.
func (a *Agenda) Run(ctx context.Context) error {
	if err := a.ReloadSettings(ctx); err != nil {
		return err
	}
	entries, err := a.Entries(ctx)
	if err != nil {
		return err
	}
	return a.sched.Run(ctx, entries)
}

// Entries returns the initial scheduler entries from the stores.
func (a *Agenda) Entries(ctx context.Context) ([]countdown.Entry, error) {
	entities, err := a.deps.Entities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	tasks, err := a.deps.Tasks.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}

	t := a.deps.Tuning.Current()
	entries := make([]countdown.Entry, 0, len(entities)+len(tasks))
	for _, e := range entities {
		if e.Proactive.Enabled {
			entries = append(entries, ProactiveEntry(e, t))
		}
	}
	for _, task := range tasks {
		entries = append(entries, ReminderEntry(task))
	}
	return entries, nil
}

// ProactiveEntry maps an entity to an interval slot. Unset bounds fall back
// to the tuned defaults.
func ProactiveEntry(e model.Entity, t tuning.Tuning) countdown.Entry {
	cfg := e.Proactive
	if cfg.MinMinutes <= 0 {
		cfg.MinMinutes = t.ProactiveMinMinutes
	}
	if cfg.MaxMinutes <= 0 {
		cfg.MaxMinutes = t.ProactiveMaxMinutes
	}
	minDur, maxDur := cfg.Bounds()
	return countdown.Entry{
		Key:      countdown.Key{Kind: KindProactive, ID: e.ID},
		Enabled:  cfg.Enabled,
		Min:      minDur,
		Max:      maxDur,
		NextFire: cfg.NextFireAt,
	}
}

func ReminderEntry(task model.ScheduledTask) countdown.Entry {
	return countdown.Entry{
		Key:      countdown.Key{Kind: KindReminder, ID: task.ID},
		Enabled:  !task.Completed,
		At:       task.TriggerAt,
		Every:    task.Repeat.Period(),
		NextFire: task.NextFireAt,
	}
}

// SyncEntity re-reads an entity and reconfigures its proactive slot.
func (a *Agenda) SyncEntity(ctx context.Context, entityID int64) error {
	key := countdown.Key{Kind: KindProactive, ID: entityID}
	e, err := a.deps.Entities.GetByID(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return a.sched.Cancel(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("get entity: %w", err)
	}
	return a.sched.Configure(ctx, ProactiveEntry(*e, a.deps.Tuning.Current()))
}

// SyncReminder re-reads a task and reconfigures or cancels its slot.
func (a *Agenda) SyncReminder(ctx context.Context, taskID int64) error {
	key := countdown.Key{Kind: KindReminder, ID: taskID}
	task, err := a.deps.Tasks.GetByID(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return a.sched.Cancel(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task.Completed {
		return a.sched.Cancel(ctx, key)
	}
	return a.sched.Configure(ctx, ReminderEntry(*task))
}

// ScheduleReminder persists a reminder created in chat and arms it.
func (a *Agenda) ScheduleReminder(ctx context.Context, task *model.ScheduledTask) error {
	if task.Repeat == "" {
		task.Repeat = model.RepeatNone
	}
	if err := a.deps.Tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return a.sched.Configure(ctx, ReminderEntry(*task))
}

// TriggerProactive sends a proactive message now. Entities without an armed
// slot get a one-off delivery.
func (a *Agenda) TriggerProactive(ctx context.Context, entityID int64) error {
	err := a.sched.Trigger(ctx, countdown.Key{Kind: KindProactive, ID: entityID})
	if errors.Is(err, countdown.ErrUnknownKey) {
		return a.fireProactive(ctx, entityID)
	}
	return err
}

// SetQuietHours stores the window and applies it to live filtering.
func (a *Agenda) SetQuietHours(ctx context.Context, q model.QuietHours) error {
	if !q.Valid() {
		return fmt.Errorf("quiet hours %d-%d out of range", q.StartHour, q.EndHour)
	}
	if err := a.deps.Settings.SetQuietHours(ctx, q); err != nil {
		return fmt.Errorf("set quiet hours: %w", err)
	}
	a.deps.Filter.SetWindow(quiet.FromSettings(q))
	slog.InfoContext(ctx, "quiet hours updated", "enabled", q.Enabled, "start_hour", q.StartHour, "end_hour", q.EndHour)
	return nil
}

// ReloadSettings applies the stored quiet window, or the tuned default when
// none was stored.
func (a *Agenda) ReloadSettings(ctx context.Context) error {
	q, err := a.deps.Settings.QuietHours(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		def := a.deps.Tuning.Current().DefaultQuietHours()
		q = &def
	case err != nil:
		return fmt.Errorf("load quiet hours: %w", err)
	}
	a.deps.Filter.SetWindow(quiet.FromSettings(*q))
	return nil
}

// Status reports the live state of every slot.
func (a *Agenda) Status(ctx context.Context) ([]countdown.SlotStatus, error) {
	return a.sched.Status(ctx)
}
