package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/chorus/internal/queue"
)

var _ = Describe("ParseMessage", func() {
	It("parses a user message", func() {
		msg, err := queue.ParseMessage(redis.XMessage{
			ID: "1-0",
			Values: map[string]any{
				"task_type":       "user_message",
				"conversation_id": "42",
				"content":         "hello",
				"attempt":         "2",
				"trace_id":        "abc",
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("1-0"))
		Expect(msg.TaskType).To(Equal(queue.TaskTypeUserMessage))
		Expect(*msg.ConversationID).To(Equal(int64(42)))
		Expect(msg.Content).To(Equal("hello"))
		Expect(msg.Attempt).To(Equal(2))
		Expect(msg.TraceID).To(Equal("abc"))
	})

	It("defaults the attempt to 1", func() {
		msg, err := queue.ParseMessage(redis.XMessage{Values: map[string]any{"task_type": "settings_changed"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Attempt).To(Equal(1))
	})

	DescribeTable("rejects malformed messages",
		func(values map[string]any, want string) {
			_, err := queue.ParseMessage(redis.XMessage{Values: values})
			Expect(err).To(MatchError(ContainSubstring(want)))
		},
		Entry("no task type", map[string]any{"conversation_id": "1"}, "missing task_type"),
		Entry("unknown task type", map[string]any{"task_type": "issue_event"}, "unknown task_type"),
		Entry("user message without conversation", map[string]any{"task_type": "user_message", "content": "hi"}, "missing conversation_id"),
		Entry("user message without content", map[string]any{"task_type": "user_message", "conversation_id": "1"}, "missing content"),
		Entry("entity change without entity", map[string]any{"task_type": "entity_changed"}, "missing entity_id"),
		Entry("proactive trigger without entity", map[string]any{"task_type": "proactive_now"}, "missing entity_id"),
		Entry("reminder change without task", map[string]any{"task_type": "reminder_changed"}, "missing task_id"),
		Entry("non-numeric id", map[string]any{"task_type": "entity_changed", "entity_id": "abc"}, "parsing entity_id"),
	)
})
