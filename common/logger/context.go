package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// LogFields is attached to a context once and then carried by every log line
// and span started below it.
type LogFields struct {
	ConversationID  *int64
	EntityID        *int64
	TaskID          *int64  // reminder
	Slot            *string // countdown slot, e.g. "proactive:42"
	StreamMessageID *string
	TaskType        *string
	RequestID       *string
	Component       string // e.g. "chorus.brain.orchestrator"
}

// WithLogFields merges fields over whatever ctx already carries; set values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	override(&merged.ConversationID, fields.ConversationID)
	override(&merged.EntityID, fields.EntityID)
	override(&merged.TaskID, fields.TaskID)
	override(&merged.Slot, fields.Slot)
	override(&merged.StreamMessageID, fields.StreamMessageID)
	override(&merged.TaskType, fields.TaskType)
	override(&merged.RequestID, fields.RequestID)
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(contextKey{}).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func override[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func (f LogFields) attrs() []slog.Attr {
	var out []slog.Attr
	if f.ConversationID != nil {
		out = append(out, slog.Int64("conversation_id", *f.ConversationID))
	}
	if f.EntityID != nil {
		out = append(out, slog.Int64("entity_id", *f.EntityID))
	}
	if f.TaskID != nil {
		out = append(out, slog.Int64("task_id", *f.TaskID))
	}
	if f.Slot != nil {
		out = append(out, slog.String("slot", *f.Slot))
	}
	if f.StreamMessageID != nil {
		out = append(out, slog.String("stream_message_id", *f.StreamMessageID))
	}
	if f.TaskType != nil {
		out = append(out, slog.String("task_type", *f.TaskType))
	}
	if f.RequestID != nil {
		out = append(out, slog.String("request_id", *f.RequestID))
	}
	if f.Component != "" {
		out = append(out, slog.String("component", f.Component))
	}
	return out
}

func Ptr[T any](v T) *T {
	return &v
}

// Truncate cuts s to maxLen bytes for logging, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
