package memory_test

import (
	"context"
	"errors"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/common/llm"
	"basegraph.app/chorus/internal/memory"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/tuning"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("ShouldSummarize",
	func(count, interval int, expected bool) {
		Expect(memory.ShouldSummarize(count, interval)).To(Equal(expected))
	},
	Entry("at the interval", 40, 40, true),
	Entry("at a multiple", 80, 40, true),
	Entry("just before", 39, 40, false),
	Entry("just after", 41, 40, false),
	Entry("zero messages", 0, 40, false),
	Entry("zero interval", 40, 0, false),
)

var _ = Describe("ParseItems", func() {
	It("strips list markers and collapses whitespace", func() {
		text := "- likes   green tea\n* works night shifts\n• has a cat named Mochi\n1. birthday in May\n2) plays tennis\n3、喜欢吃辣的食物"
		Expect(memory.ParseItems(text)).To(Equal([]string{
			"likes green tea",
			"works night shifts",
			"has a cat named Mochi",
			"birthday in May",
			"plays tennis",
			"喜欢吃辣的食物",
		}))
	})

	It("drops fragments of three characters or fewer", func() {
		Expect(memory.ParseItems("- ok\n- yes\n\n-   \n- four")).To(Equal([]string{"four"}))
		Expect(memory.ParseItems("- 猫猫猫")).To(BeEmpty())
	})

	It("returns nothing for blank output", func() {
		Expect(memory.ParseItems("   \n\n")).To(BeEmpty())
	})
})

var _ = Describe("Summarizer", func() {
	var (
		client   *mockLLM
		messages *mockMessages
		entities *mockEntities
		sup      *background.Supervisor
		s        *memory.Summarizer
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLM{}
		messages = &mockMessages{
			recentRoundsFn: func(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error) {
				return []model.Message{
					{SenderKind: model.SenderUser, Content: "I just adopted a cat"},
					{SenderKind: model.SenderEntity, EntityID: 5, Content: "What's its name?"},
				}, nil
			},
		}
		entities = &mockEntities{entity: &model.Entity{ID: 5, Name: "Mia", Memory: []string{"Likes green tea"}}}
		sup = background.New(ctx)
		s = memory.NewSummarizer(messages, entities, client, tuning.Static(tuning.Defaults()), sup)
	})

	It("appends new items using the configured rounds and temperature", func() {
		var gotRounds int
		messages.recentRoundsFn = func(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error) {
			gotRounds = rounds
			return []model.Message{{SenderKind: model.SenderUser, Content: "hi"}}, nil
		}
		var gotReq llm.ChatRequest
		client.completeFn = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			gotReq = req
			return &llm.ChatResponse{Content: "- adopted a cat\n- likes green tea"}, nil
		}

		items, err := s.Summarize(ctx, 1, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(Equal([]string{"adopted a cat"}))
		Expect(entities.Appended()).To(Equal([][]string{{"adopted a cat"}}))
		Expect(gotRounds).To(Equal(20))
		Expect(*gotReq.Temperature).To(Equal(0.3))
		Expect(gotReq.Messages[0].Content).To(ContainSubstring("Likes green tea"))
	})

	It("does nothing when there is no history", func() {
		messages.recentRoundsFn = func(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error) {
			return nil, nil
		}
		items, err := s.Summarize(ctx, 1, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())
		Expect(entities.Appended()).To(BeEmpty())
	})

	It("reports backend failures from Summarize", func() {
		client.completeFn = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("503")
		}
		_, err := s.Summarize(ctx, 1, 5)
		Expect(err).To(HaveOccurred())
	})

	It("swallows failures when triggered in the background", func() {
		client.completeFn = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("503")
		}
		s.Trigger(ctx, 1, 5)
		Expect(sup.Wait(ctx)).To(Succeed())
		Expect(entities.Appended()).To(BeEmpty())
	})

	It("appends in the background", func() {
		client.completeFn = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Content: "1. adopted a cat"}, nil
		}
		s.Trigger(ctx, 1, 5)
		Expect(sup.Wait(ctx)).To(Succeed())
		Expect(entities.Appended()).To(Equal([][]string{{"adopted a cat"}}))
	})
})
