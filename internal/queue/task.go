package queue

type TaskType string

const (
	// TaskTypeUserMessage carries a persisted user fragment into the orchestrator.
	TaskTypeUserMessage     TaskType = "user_message"
	// TaskTypeEntityChanged asks the worker to reload an entity and its proactive countdown.
	TaskTypeEntityChanged   TaskType = "entity_changed"
	// TaskTypeReminderChanged asks the worker to (re)arm or cancel one reminder.
	TaskTypeReminderChanged TaskType = "reminder_changed"
	// TaskTypeProactiveNow fires an entity's proactive message immediately.
	TaskTypeProactiveNow    TaskType = "proactive_now"
	TaskTypeSettingsChanged TaskType = "settings_changed"
)

type Task struct {
	TaskType       TaskType
	ConversationID *int64
	EntityID       *int64
	TaskID         *int64
	Content        string
	TraceID        string
	Attempt        int
}
