package dto

import (
	"time"

	"basegraph.app/chorus/internal/model"
)

type CreateReminderRequest struct {
	ConversationID Int64String `json:"conversation_id" binding:"required"`
	EntityID       Int64String `json:"entity_id" binding:"required"`
	Message        string      `json:"message" binding:"max=4000"`
	Prompt         string      `json:"prompt" binding:"max=4000"`
	TriggerAt      time.Time   `json:"trigger_at" binding:"required"`
	Repeat         string      `json:"repeat" binding:"omitempty,oneof=none daily weekly"`
}

type ReminderResponse struct {
	ID             int64      `json:"id,string"`
	ConversationID int64      `json:"conversation_id,string"`
	EntityID       int64      `json:"entity_id,string"`
	Message        string     `json:"message,omitempty"`
	Prompt         string     `json:"prompt,omitempty"`
	TriggerAt      time.Time  `json:"trigger_at"`
	Repeat         string     `json:"repeat"`
	NextFireAt     *time.Time `json:"next_fire_at,omitempty"`
	Completed      bool       `json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func ToReminderResponse(t *model.ScheduledTask) *ReminderResponse {
	return &ReminderResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		EntityID:       t.EntityID,
		Message:        t.Message,
		Prompt:         t.Prompt,
		TriggerAt:      t.TriggerAt,
		Repeat:         string(t.Repeat),
		NextFireAt:     t.NextFireAt,
		Completed:      t.Completed,
		CompletedAt:    t.CompletedAt,
	}
}

type ListRemindersResponse struct {
	Reminders []*ReminderResponse `json:"reminders"`
}

func ToListRemindersResponse(tasks []model.ScheduledTask) ListRemindersResponse {
	out := ListRemindersResponse{Reminders: make([]*ReminderResponse, len(tasks))}
	for i := range tasks {
		out.Reminders[i] = ToReminderResponse(&tasks[i])
	}
	return out
}
