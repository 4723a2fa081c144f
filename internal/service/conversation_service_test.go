package service_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/service"
	"basegraph.app/chorus/internal/store"
)

var _ = Describe("ConversationService", func() {
	var (
		ctx      context.Context
		convs    *mockConversationStore
		messages *mockMessageStore
		entities *mockEntityStore
		producer *mockProducer
		svc      service.ConversationService
	)

	BeforeEach(func() {
		ctx = context.Background()
		convs = &mockConversationStore{}
		messages = &mockMessageStore{}
		entities = &mockEntityStore{
			getManyFn: func(_ context.Context, ids []int64) ([]model.Entity, error) {
				out := make([]model.Entity, 0, len(ids))
				for _, v := range ids {
					if v < 100 {
						out = append(out, model.Entity{ID: v})
					}
				}
				return out, nil
			},
		}
		producer = &mockProducer{}
		tx := &mockTxRunner{stores: &mockStoreProvider{convs: convs, entities: entities, tasks: &mockTaskStore{}}}
		svc = service.NewConversationService(convs, messages, tx, producer)
	})

	Describe("Create", func() {
		DescribeTable("rejects invalid shapes",
			func(params service.CreateConversationParams) {
				_, err := svc.Create(ctx, params)
				Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
			},
			Entry("single with two members", service.CreateConversationParams{Kind: model.ConversationKindSingle, MemberIDs: []int64{1, 2}}),
			Entry("single with ai-to-ai", service.CreateConversationParams{Kind: model.ConversationKindSingle, MemberIDs: []int64{1}, AllowAIToAI: true}),
			Entry("group with one member", service.CreateConversationParams{Kind: model.ConversationKindGroup, MemberIDs: []int64{1}}),
			Entry("group with a duplicated member", service.CreateConversationParams{Kind: model.ConversationKindGroup, MemberIDs: []int64{1, 1}}),
			Entry("unknown kind", service.CreateConversationParams{Kind: "party", MemberIDs: []int64{1, 2}}),
			Entry("unknown member", service.CreateConversationParams{Kind: model.ConversationKindGroup, MemberIDs: []int64{1, 500}}),
		)

		It("creates a group conversation", func() {
			var created *model.Conversation
			convs.createFn = func(_ context.Context, c *model.Conversation) error {
				created = c
				return nil
			}

			conv, err := svc.Create(ctx, service.CreateConversationParams{
				Kind:        model.ConversationKindGroup,
				Title:       "  friends  ",
				MemberIDs:   []int64{1, 2, 3},
				AllowAIToAI: true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(Equal(conv))
			Expect(conv.ID).NotTo(BeZero())
			Expect(conv.Title).To(Equal("friends"))
			Expect(conv.MemberIDs).To(Equal([]int64{1, 2, 3}))
			Expect(conv.AllowAIToAI).To(BeTrue())
		})

		It("returns the existing 1:1 conversation", func() {
			convs.findSingleFn = func(_ context.Context, entityID int64) (*model.Conversation, error) {
				return &model.Conversation{ID: 42, Kind: model.ConversationKindSingle, MemberIDs: []int64{entityID}}, nil
			}
			convs.createFn = func(context.Context, *model.Conversation) error {
				Fail("create must not be called")
				return nil
			}

			conv, err := svc.Create(ctx, service.CreateConversationParams{Kind: model.ConversationKindSingle, MemberIDs: []int64{7}})
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).To(Equal(int64(42)))
		})
	})

	Describe("PostMessage", func() {
		BeforeEach(func() {
			convs.getByIDFn = func(_ context.Context, id int64) (*model.Conversation, error) {
				if id != 5 {
					return nil, store.ErrNotFound
				}
				return &model.Conversation{ID: 5}, nil
			}
		})

		It("persists the fragment and enqueues it", func() {
			res, err := svc.PostMessage(ctx, service.PostMessageParams{ConversationID: 5, Content: " hi there ", TraceID: "abc"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeTrue())
			Expect(res.Message.Content).To(Equal("hi there"))
			Expect(res.Message.SenderKind).To(Equal(model.SenderUser))
			Expect(res.Message.Kind).To(Equal(model.MessageKindChat))
			Expect(messages.appended).To(HaveLen(1))

			Expect(producer.tasks).To(HaveLen(1))
			task := producer.tasks[0]
			Expect(task.TaskType).To(Equal(queue.TaskTypeUserMessage))
			Expect(*task.ConversationID).To(Equal(int64(5)))
			Expect(task.Content).To(Equal("hi there"))
			Expect(task.TraceID).To(Equal("abc"))
		})

		It("reports a failed enqueue without failing the request", func() {
			producer.enqueueFn = func(context.Context, queue.Task) error { return errors.New("redis down") }

			res, err := svc.PostMessage(ctx, service.PostMessageParams{ConversationID: 5, Content: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeFalse())
			Expect(messages.appended).To(HaveLen(1))
		})

		It("rejects empty and oversized content", func() {
			_, err := svc.PostMessage(ctx, service.PostMessageParams{ConversationID: 5, Content: "   "})
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())

			_, err = svc.PostMessage(ctx, service.PostMessageParams{ConversationID: 5, Content: strings.Repeat("x", 4001)})
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
			Expect(messages.appended).To(BeEmpty())
		})

		It("returns not found for an unknown conversation", func() {
			_, err := svc.PostMessage(ctx, service.PostMessageParams{ConversationID: 6, Content: "hi"})
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
			Expect(producer.tasks).To(BeEmpty())
		})
	})
})
