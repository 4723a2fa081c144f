package queue

import (
	"errors"
	"fmt"
	"strconv"
)

// Stream entry field names.
const (
	fieldTaskType       = "task_type"
	fieldConversationID = "conversation_id"
	fieldEntityID       = "entity_id"
	fieldTaskID         = "task_id"
	fieldContent        = "content"
	fieldTraceID        = "trace_id"
	fieldAttempt        = "attempt"
	fieldLastError      = "last_error"
	fieldError          = "error"
)

// Validate checks that the task carries the ids its type needs.
func (t Task) Validate() error {
	switch t.TaskType {
	case TaskTypeUserMessage:
		if t.ConversationID == nil {
			return errors.New("missing conversation_id")
		}
		if t.Content == "" {
			return errors.New("missing content")
		}
	case TaskTypeEntityChanged, TaskTypeProactiveNow:
		if t.EntityID == nil {
			return errors.New("missing entity_id")
		}
	case TaskTypeReminderChanged:
		if t.TaskID == nil {
			return errors.New("missing task_id")
		}
	case TaskTypeSettingsChanged:
	default:
		return fmt.Errorf("unknown task_type %q", t.TaskType)
	}
	return nil
}

func encode(t Task) map[string]any {
	attempt := t.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		fieldTaskType: string(t.TaskType),
		fieldAttempt:  attempt,
	}
	for key, v := range map[string]*int64{
		fieldConversationID: t.ConversationID,
		fieldEntityID:       t.EntityID,
		fieldTaskID:         t.TaskID,
	} {
		if v != nil {
			values[key] = *v
		}
	}
	if t.Content != "" {
		values[fieldContent] = t.Content
	}
	if t.TraceID != "" {
		values[fieldTraceID] = t.TraceID
	}
	return values
}

func decode(values map[string]any) (Task, error) {
	r := fieldReader{values: values}
	t := Task{
		TaskType:       TaskType(r.required(fieldTaskType)),
		ConversationID: r.int64(fieldConversationID),
		EntityID:       r.int64(fieldEntityID),
		TaskID:         r.int64(fieldTaskID),
		Content:        r.optional(fieldContent),
		TraceID:        r.optional(fieldTraceID),
		Attempt:        r.int(fieldAttempt),
	}
	if r.err != nil {
		return Task{}, r.err
	}
	if t.Attempt <= 0 {
		t.Attempt = 1
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// fieldReader keeps the first error so decode can read every field in one
// expression.
type fieldReader struct {
	values map[string]any
	err    error
}

func (r *fieldReader) lookup(key string) (string, bool) {
	raw, ok := r.values[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(raw), true
}

func (r *fieldReader) required(key string) string {
	s, ok := r.lookup(key)
	if !ok && r.err == nil {
		r.err = fmt.Errorf("missing %s", key)
	}
	return s
}

func (r *fieldReader) optional(key string) string {
	s, _ := r.lookup(key)
	return s
}

func (r *fieldReader) int64(key string) *int64 {
	s, ok := r.lookup(key)
	if !ok || r.err != nil {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("parsing %s: %w", key, err)
		return nil
	}
	return &n
}

func (r *fieldReader) int(key string) int {
	s, ok := r.lookup(key)
	if !ok || r.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.err = fmt.Errorf("parsing %s: %w", key, err)
		return 0
	}
	return n
}
