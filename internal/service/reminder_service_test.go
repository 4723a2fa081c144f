package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/service"
	"basegraph.app/chorus/internal/store"
)

var _ = Describe("ReminderService", func() {
	var (
		ctx      context.Context
		convs    *mockConversationStore
		tasks    *mockTaskStore
		producer *mockProducer
		svc      service.ReminderService
		at       time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		at = time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
		convs = &mockConversationStore{
			getByIDFn: func(_ context.Context, id int64) (*model.Conversation, error) {
				if id != 5 {
					return nil, store.ErrNotFound
				}
				return &model.Conversation{ID: 5, MemberIDs: []int64{7}}, nil
			},
		}
		tasks = &mockTaskStore{}
		producer = &mockProducer{}
		svc = service.NewReminderService(convs, tasks, producer)
	})

	DescribeTable("rejects invalid reminders",
		func(params service.CreateReminderParams) {
			_, err := svc.Create(ctx, params)
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		},
		Entry("neither message nor prompt", service.CreateReminderParams{ConversationID: 5, EntityID: 7, TriggerAt: time.Now()}),
		Entry("both message and prompt", service.CreateReminderParams{ConversationID: 5, EntityID: 7, Message: "a", Prompt: "b", TriggerAt: time.Now()}),
		Entry("missing trigger_at", service.CreateReminderParams{ConversationID: 5, EntityID: 7, Message: "a"}),
		Entry("unknown repeat", service.CreateReminderParams{ConversationID: 5, EntityID: 7, Message: "a", TriggerAt: time.Now(), Repeat: "hourly"}),
		Entry("entity outside the conversation", service.CreateReminderParams{ConversationID: 5, EntityID: 8, Message: "a", TriggerAt: time.Now()}),
	)

	It("creates a one-shot reminder by default", func() {
		var created *model.ScheduledTask
		tasks.createFn = func(_ context.Context, t *model.ScheduledTask) error {
			created = t
			return nil
		}

		task, err := svc.Create(ctx, service.CreateReminderParams{ConversationID: 5, EntityID: 7, Message: " stretch ", TriggerAt: at})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(Equal(task))
		Expect(task.Message).To(Equal("stretch"))
		Expect(task.Repeat).To(Equal(model.RepeatNone))
		Expect(task.TriggerAt).To(Equal(at))

		Expect(producer.types()).To(Equal([]queue.TaskType{queue.TaskTypeReminderChanged}))
		Expect(*producer.tasks[0].TaskID).To(Equal(task.ID))
	})

	It("returns not found for an unknown conversation", func() {
		_, err := svc.Create(ctx, service.CreateReminderParams{ConversationID: 6, EntityID: 7, Message: "a", TriggerAt: at})
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})

	Describe("Cancel", func() {
		It("completes an open reminder", func() {
			tasks.getByIDFn = func(_ context.Context, id int64) (*model.ScheduledTask, error) {
				return &model.ScheduledTask{ID: id}, nil
			}
			var completed int64
			tasks.completeFn = func(_ context.Context, id int64, _ time.Time) error {
				completed = id
				return nil
			}

			Expect(svc.Cancel(ctx, 9)).To(Succeed())
			Expect(completed).To(Equal(int64(9)))
			Expect(producer.types()).To(Equal([]queue.TaskType{queue.TaskTypeReminderChanged}))
		})

		It("leaves a completed reminder alone", func() {
			tasks.getByIDFn = func(_ context.Context, id int64) (*model.ScheduledTask, error) {
				return &model.ScheduledTask{ID: id, Completed: true}, nil
			}
			tasks.completeFn = func(context.Context, int64, time.Time) error {
				Fail("complete must not be called")
				return nil
			}

			Expect(svc.Cancel(ctx, 9)).To(Succeed())
			Expect(producer.tasks).To(BeEmpty())
		})
	})
})
