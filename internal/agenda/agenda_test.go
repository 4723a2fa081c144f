package agenda_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/internal/agenda"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/quiet"
	"basegraph.app/chorus/internal/tuning"
)

var _ = Describe("entries", func() {
	It("falls back to tuned proactive bounds", func() {
		t := tuning.Defaults()
		t.ProactiveMinMinutes = 60
		t.ProactiveMaxMinutes = 240

		e := agenda.ProactiveEntry(model.Entity{ID: 7, Proactive: model.ProactiveConfig{Enabled: true}}, t)
		Expect(e.Key).To(Equal(countdown.Key{Kind: agenda.KindProactive, ID: 7}))
		Expect(e.Enabled).To(BeTrue())
		Expect(e.Min).To(Equal(time.Hour))
		Expect(e.Max).To(Equal(4 * time.Hour))
		Expect(e.At.IsZero()).To(BeTrue())
	})

	It("keeps explicit proactive bounds and the persisted fire time", func() {
		next := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)
		e := agenda.ProactiveEntry(model.Entity{ID: 7, Proactive: model.ProactiveConfig{
			Enabled: true, MinMinutes: 5, MaxMinutes: 10, NextFireAt: &next,
		}}, tuning.Defaults())
		Expect(e.Min).To(Equal(5 * time.Minute))
		Expect(e.Max).To(Equal(10 * time.Minute))
		Expect(e.NextFire).To(Equal(&next))
	})

	DescribeTable("reminder repeat",
		func(repeat model.Repeat, every time.Duration) {
			at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
			e := agenda.ReminderEntry(model.ScheduledTask{ID: 3, TriggerAt: at, Repeat: repeat})
			Expect(e.Key).To(Equal(countdown.Key{Kind: agenda.KindReminder, ID: 3}))
			Expect(e.At).To(Equal(at))
			Expect(e.Every).To(Equal(every))
			Expect(e.Enabled).To(BeTrue())
		},
		Entry("one-shot", model.RepeatNone, time.Duration(0)),
		Entry("daily", model.RepeatDaily, 24*time.Hour),
		Entry("weekly", model.RepeatWeekly, 7*24*time.Hour),
	)

	It("disables completed reminders", func() {
		Expect(agenda.ReminderEntry(model.ScheduledTask{ID: 3, Completed: true}).Enabled).To(BeFalse())
	})
})

var _ = Describe("Agenda", func() {
	var (
		now      time.Time
		convs    *memConversations
		entities *memEntities
		tasks    *memTasks
		settings *memSettings
		brainFn  *mockOriginator
		filter   *quiet.Filter
		sup      *background.Supervisor
		a        *agenda.Agenda

		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		convs = &memConversations{convs: []model.Conversation{
			{ID: 1, Kind: model.ConversationKindSingle, MemberIDs: []int64{7}},
			{ID: 2, Kind: model.ConversationKindGroup, MemberIDs: []int64{7, 8}},
		}}
		entities = &memEntities{entities: map[int64]model.Entity{
			7: {ID: 7, Name: "Mia"},
			8: {ID: 8, Name: "Leo"},
		}}
		tasks = &memTasks{tasks: map[int64]model.ScheduledTask{}}
		settings = &memSettings{}
		brainFn = &mockOriginator{}
		filter = quiet.NewFilter(quiet.Window{}, clock)
		sup = background.New(context.Background())
	})

	start := func(opts ...countdown.Option) {
		a = agenda.New(agenda.Deps{
			Conversations: convs,
			Entities:      entities,
			Tasks:         tasks,
			Settings:      settings,
			Brain:         brainFn,
			Filter:        filter,
			Tuning:        tuning.Static(tuning.Defaults()),
			Supervisor:    sup,
			Now:           func() time.Time { return now },
		}, opts...)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- a.Run(ctx) }()
	}

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done).Should(Receive())
			cancel = nil
		}
	})

	It("delivers a missed one-shot reminder once at startup and completes it", func() {
		tasks.tasks[3] = model.ScheduledTask{
			ID: 3, ConversationID: 1, EntityID: 7,
			Message: "stand up", TriggerAt: now.Add(-time.Hour), Repeat: model.RepeatNone,
		}
		start()

		Eventually(func() bool { return tasks.get(3).Completed }).Should(BeTrue())
		Expect(brainFn.requests()).To(Equal([]brain.Origination{{
			ConversationID: 1, EntityID: 7, Message: "stand up", Kind: model.MessageKindReminder,
		}}))

		st, err := a.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(BeEmpty())
	})

	It("retries a reminder while the conversation is busy", func() {
		brainFn.originateFn = func(context.Context, brain.Origination) error { return brain.ErrConversationBusy }
		tasks.tasks[3] = model.ScheduledTask{
			ID: 3, ConversationID: 1, EntityID: 7,
			Prompt: "remind about water", TriggerAt: now.Add(-time.Minute), Repeat: model.RepeatNone,
		}
		start(countdown.WithRetryDelay(time.Hour))

		Eventually(func() *time.Time { return tasks.get(3).NextFireAt }).ShouldNot(BeNil())
		Expect(*tasks.get(3).NextFireAt).To(Equal(now.Add(time.Hour)))
		Expect(tasks.get(3).Completed).To(BeFalse())
	})

	It("arms proactive entities and persists the drawn fire time", func() {
		entities.entities[7] = model.Entity{ID: 7, Name: "Mia", Proactive: model.ProactiveConfig{
			Enabled: true, MinMinutes: 30, MaxMinutes: 60,
		}}
		start()

		Eventually(func() *time.Time { return entities.get(7).Proactive.NextFireAt }).ShouldNot(BeNil())
		next := *entities.get(7).Proactive.NextFireAt
		Expect(next).To(BeTemporally(">=", now.Add(30*time.Minute)))
		Expect(next).To(BeTemporally("<=", now.Add(60*time.Minute)))

		st, err := a.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(HaveLen(1))
		Expect(st[0].Key).To(Equal(countdown.Key{Kind: agenda.KindProactive, ID: 7}))
		Expect(st[0].State).To(Equal(countdown.StateArmed))
	})

	It("cancels the proactive slot when an entity is disabled", func() {
		entities.entities[7] = model.Entity{ID: 7, Name: "Mia", Proactive: model.ProactiveConfig{Enabled: true}}
		start()
		Eventually(func() *time.Time { return entities.get(7).Proactive.NextFireAt }).ShouldNot(BeNil())

		Expect(entities.update(7, func(e *model.Entity) { e.Proactive.Enabled = false })).To(Succeed())
		Expect(a.SyncEntity(context.Background(), 7)).To(Succeed())

		Eventually(func() *time.Time { return entities.get(7).Proactive.NextFireAt }).Should(BeNil())
		st, err := a.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(BeEmpty())
	})

	It("keeps an owed proactive message when only the entity's memory changes", func() {
		past := now.Add(-10 * time.Minute)
		entities.entities[7] = model.Entity{ID: 7, Name: "Mia", Proactive: model.ProactiveConfig{
			Enabled: true, MinMinutes: 30, MaxMinutes: 60, NextFireAt: &past,
		}}
		settings.q = &model.QuietHours{Enabled: true, StartHour: 0, EndHour: 23}
		start()
		Eventually(filter.Pending).Should(Equal(1))

		Expect(entities.update(7, func(e *model.Entity) { e.Memory = nil })).To(Succeed())
		Expect(a.SyncEntity(context.Background(), 7)).To(Succeed())

		st, err := a.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(ConsistOf(HaveField("State", countdown.StateDeferred)))
		Expect(entities.get(7).Proactive.NextFireAt).To(Equal(&past))

		filter.SetWindow(quiet.Window{})
		Expect(filter.Flush(context.Background())).To(Equal(1))
		Eventually(brainFn.requests).Should(HaveLen(1))
		Expect(brainFn.requests()[0].Kind).To(Equal(model.MessageKindProactive))
	})

	It("sends a one-off proactive message to the 1:1 conversation", func() {
		start()

		Expect(a.TriggerProactive(context.Background(), 7)).To(Succeed())
		Expect(brainFn.requests()).To(Equal([]brain.Origination{{
			ConversationID: 1, EntityID: 7, Prompt: agenda.DefaultTriggerPrompt, Kind: model.MessageKindProactive,
		}}))
	})

	It("skips proactive messages for entities without a 1:1 conversation", func() {
		start()

		Expect(a.TriggerProactive(context.Background(), 8)).To(Succeed())
		Expect(brainFn.requests()).To(BeEmpty())
	})

	It("schedules chat reminders and arms them", func() {
		start()

		task := &model.ScheduledTask{ID: 5, ConversationID: 1, EntityID: 7, Prompt: "call mom", TriggerAt: now.Add(30 * time.Minute)}
		Expect(a.ScheduleReminder(context.Background(), task)).To(Succeed())

		Expect(tasks.get(5).Repeat).To(Equal(model.RepeatNone))
		Eventually(func() *time.Time { return tasks.get(5).NextFireAt }).Should(Equal(&task.TriggerAt))
	})

	It("cancels completed reminders on sync", func() {
		tasks.tasks[5] = model.ScheduledTask{ID: 5, ConversationID: 1, EntityID: 7, Message: "hi", TriggerAt: now.Add(time.Hour)}
		start()
		Eventually(func() *time.Time { return tasks.get(5).NextFireAt }).ShouldNot(BeNil())

		Expect(tasks.Complete(context.Background(), 5, now)).To(Succeed())
		Expect(a.SyncReminder(context.Background(), 5)).To(Succeed())

		Eventually(func() int {
			st, _ := a.Status(context.Background())
			return len(st)
		}).Should(Equal(0))
	})

	Describe("quiet hours", func() {
		It("applies the tuned default when nothing is stored", func() {
			start()
			Eventually(func() quiet.Window { return filter.Window() }).Should(Equal(quiet.Window{Enabled: false, StartHour: 23, EndHour: 7}))
		})

		It("applies the stored window on reload", func() {
			settings.q = &model.QuietHours{Enabled: true, StartHour: 22, EndHour: 6}
			start()
			Eventually(func() quiet.Window { return filter.Window() }).Should(Equal(quiet.Window{Enabled: true, StartHour: 22, EndHour: 6}))
		})

		It("stores and applies a new window", func() {
			start()
			q := model.QuietHours{Enabled: true, StartHour: 1, EndHour: 13}
			Expect(a.SetQuietHours(context.Background(), q)).To(Succeed())

			Expect(settings.q).To(Equal(&q))
			Expect(filter.IsQuiet()).To(BeTrue())
		})

		It("rejects out of range hours", func() {
			start()
			Expect(a.SetQuietHours(context.Background(), model.QuietHours{Enabled: true, StartHour: 25})).NotTo(Succeed())
			Expect(settings.q).To(BeNil())
		})
	})
})
