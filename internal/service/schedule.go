package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"basegraph.app/chorus/internal/store"
)

// ScheduleEntry is a persisted countdown. The worker's admin port reports the
// live actor state instead.
type ScheduleEntry struct {
	Kind       string
	ID         int64
	EntityID   int64
	NextFireAt *time.Time
	Pending    bool
}

type ScheduleService interface {
	Status(ctx context.Context) ([]ScheduleEntry, error)
}

type scheduleService struct {
	entities store.EntityStore
	tasks    store.TaskStore
}

func NewScheduleService(entities store.EntityStore, tasks store.TaskStore) ScheduleService {
	return &scheduleService{entities: entities, tasks: tasks}
}

// Status lists enabled proactive entities and open reminders, soonest first.
// Entries the worker has not armed yet sort last.
func (s *scheduleService) Status(ctx context.Context) ([]ScheduleEntry, error) {
	entities, err := s.entities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	tasks, err := s.tasks.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}

	var out []ScheduleEntry
	for _, e := range entities {
		if !e.Proactive.Enabled {
			continue
		}
		out = append(out, ScheduleEntry{
			Kind:       "proactive",
			ID:         e.ID,
			EntityID:   e.ID,
			NextFireAt: e.Proactive.NextFireAt,
			Pending:    e.Proactive.NextFireAt == nil,
		})
	}
	for _, t := range tasks {
		next := t.NextFireAt
		if next == nil {
			at := t.TriggerAt
			next = &at
		}
		out = append(out, ScheduleEntry{
			Kind:       "reminder",
			ID:         t.ID,
			EntityID:   t.EntityID,
			NextFireAt: next,
			Pending:    t.NextFireAt == nil,
		})
	}

	slices.SortStableFunc(out, func(a, b ScheduleEntry) int {
		switch {
		case a.NextFireAt == nil && b.NextFireAt == nil:
			return 0
		case a.NextFireAt == nil:
			return 1
		case b.NextFireAt == nil:
			return -1
		}
		return cmp.Compare(a.NextFireAt.UnixNano(), b.NextFireAt.UnixNano())
	})
	return out, nil
}
