package model

import "time"

type Repeat string

const (
	RepeatNone   Repeat = "none"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// Period returns the re-arm interval, zero for one-shot tasks.
func (r Repeat) Period() time.Duration {
	switch r {
	case RepeatDaily:
		return 24 * time.Hour
	case RepeatWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly:
		return true
	}
	return false
}

// ScheduledTask is a reminder. Exactly one of Message (delivered verbatim) or
// Prompt (sent to the backend) is expected to be set.
type ScheduledTask struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	EntityID       int64      `json:"entity_id"`
	Message        string     `json:"message,omitempty"`
	Prompt         string     `json:"prompt,omitempty"`
	TriggerAt      time.Time  `json:"trigger_at"`
	Repeat         Repeat     `json:"repeat"`
	NextFireAt     *time.Time `json:"next_fire_at,omitempty"`
	Completed      bool       `json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
