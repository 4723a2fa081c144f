package brain_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/internal/backend"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/intent"
	"basegraph.app/chorus/internal/model"
)

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

var _ = Describe("Orchestrator", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(instant())
		h.entity(7, "Mia")
		h.single(1, 7)
	})

	Describe("Submit", func() {
		It("rejects unknown conversations as fatal", func() {
			err := h.orch.Submit(context.Background(), 99, "hi")
			var de *brain.DispatchError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Retryable).To(BeFalse())
		})

		It("rejects empty fragments as fatal", func() {
			err := h.orch.Submit(context.Background(), 1, "  ")
			var de *brain.DispatchError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Retryable).To(BeFalse())
		})

		It("debounces fragments into one newline-joined batch", func() {
			t := instant()
			t.BatchWaitSeconds = 0.1
			h = newHarness(t)
			h.entity(7, "Mia")
			h.single(1, 7)

			Expect(h.say(1, "a")).To(Succeed())
			Expect(h.say(1, "b")).To(Succeed())
			Expect(h.say(1, "c")).To(Succeed())

			Eventually(h.primary.count).Should(Equal(1))
			h.settle()
			Consistently(h.primary.count, 200*time.Millisecond).Should(Equal(1))
			Expect(h.primary.requests()[0].Prompt).To(Equal("a\nb\nc"))
			Expect(h.primary.requests()[0].History).To(BeEmpty())
		})
	})

	It("drops a batch whose debounce ends after shutdown", func() {
		t := instant()
		t.BatchWaitSeconds = 0.05
		h = newHarness(t)
		h.entity(7, "Mia")
		h.single(1, 7)

		Expect(h.say(1, "late")).To(Succeed())
		Expect(h.sup.Stop(context.Background())).To(Succeed())

		Consistently(h.primary.count, 200*time.Millisecond).Should(BeZero())
		Expect(h.orch.Busy(1)).To(BeFalse())
	})

	Describe("single-flight", func() {
		It("merges flushes during a pass into one requeue and never overlaps", func() {
			started := make(chan struct{}, 4)
			release := make(chan struct{})
			var (
				mu        sync.Mutex
				active    int
				maxActive int
			)
			h.primary.generateFn = func(_ context.Context, req backend.Request) (string, error) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				started <- struct{}{}
				<-release

				mu.Lock()
				active--
				mu.Unlock()
				return "ok", nil
			}

			Expect(h.say(1, "first")).To(Succeed())
			Eventually(started).Should(Receive())
			Expect(h.say(1, "second")).To(Succeed())
			Expect(h.say(1, "third")).To(Succeed())
			Expect(h.orch.Busy(1)).To(BeTrue())

			close(release)
			Eventually(h.primary.count).Should(Equal(2))
			Eventually(func() bool { return h.orch.Busy(1) }).Should(BeFalse())
			h.settle()

			mu.Lock()
			Expect(maxActive).To(Equal(1))
			mu.Unlock()
			Expect(h.primary.count()).To(Equal(2))

			second := h.primary.requests()[1]
			Expect(second.Prompt).To(Equal("second\nthird"))
			Expect(contents(second.History)).To(Equal([]string{"first", "ok"}))
		})
	})

	Describe("1:1 passes", func() {
		It("delivers the reply in segments and updates the conversation", func() {
			h.primary.generateFn = func(context.Context, backend.Request) (string, error) {
				return "hey||how was your day?", nil
			}

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(func() []string { return contents(h.msgs.byKind(1, model.MessageKindChat)) }).
				Should(Equal([]string{"hey", "how was your day?"}))
			h.settle()

			conv := h.convs.get(1)
			Expect(conv.LastSpeakerID).To(Equal(int64(7)))
			Expect(conv.SpeakerStreak).To(Equal(1))
			Expect(conv.LastMessagePreview).To(Equal("how was your day?"))
			Expect(conv.LastMessageAt).NotTo(BeNil())

			req := h.primary.requests()[0]
			Expect(req.Prompt).To(Equal("hello"))
			Expect(req.History).To(BeEmpty())
			Expect(req.Delimiter).To(Equal("||"))
		})

		It("falls back to the direct backend", func() {
			h.primary.generateFn = func(context.Context, backend.Request) (string, error) {
				return "", errors.New("primary down")
			}
			h.direct.generateFn = func(context.Context, backend.Request) (string, error) {
				return "from direct", nil
			}

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(func() []string { return contents(h.msgs.byKind(1, model.MessageKindChat)) }).
				Should(Equal([]string{"from direct"}))
			h.settle()
			Expect(h.primary.count()).To(Equal(1))
			Expect(h.direct.count()).To(Equal(1))
			Expect(h.direct.requests()[0].History).To(BeEmpty())
		})

		It("shows one error message when every backend fails", func() {
			failing := func(context.Context, backend.Request) (string, error) {
				return "", errors.New("down")
			}
			h.primary.generateFn = failing
			h.direct.generateFn = failing

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(func() int { return len(h.msgs.byKind(1, model.MessageKindError)) }).Should(Equal(1))
			h.settle()

			errMsg := h.msgs.byKind(1, model.MessageKindError)[0]
			Expect(errMsg.SenderKind).To(Equal(model.SenderSystem))
			Expect(errMsg.Content).To(ContainSubstring("Mia"))
			Expect(h.msgs.byKind(1, model.MessageKindChat)).To(BeEmpty())
		})

		It("times out a hung backend and frees the conversation", func() {
			t := instant()
			t.BackendTimeoutSeconds = 1
			h = newHarness(t)
			h.entity(7, "Mia")
			h.single(1, 7)

			hang := func(ctx context.Context, req backend.Request) (string, error) {
				if req.Prompt == "hello" {
					<-ctx.Done()
					return "", ctx.Err()
				}
				return "reply from " + req.Persona.Name, nil
			}
			h.primary.generateFn = hang
			h.direct.generateFn = hang

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(func() int { return len(h.msgs.byKind(1, model.MessageKindError)) }, 5*time.Second).Should(Equal(1))
			Eventually(func() bool { return h.orch.Busy(1) }, time.Second).Should(BeFalse())

			Expect(h.say(1, "still there?")).To(Succeed())
			Eventually(func() []string { return contents(h.msgs.byKind(1, model.MessageKindChat)) }, 2*time.Second).
				Should(Equal([]string{"reply from Mia"}))
			h.settle()
		})

		It("saves memory and tells the persona about it", func() {
			h.classifier.result = intent.Result{Kind: intent.KindSetMemory, Content: "user is vegetarian"}

			Expect(h.say(1, "remember that I'm vegetarian")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(1))
			h.settle()

			Expect(h.entities.memory(7)).To(Equal([]string{"user is vegetarian"}))
			req := h.primary.requests()[0]
			Expect(req.Note).To(ContainSubstring("user is vegetarian"))
			Expect(req.Memory).To(ContainElement("user is vegetarian"))
		})

		It("clears memory", func() {
			Expect(h.entities.AppendMemory(context.Background(), 7, []string{"likes tea"})).To(Succeed())
			h.classifier.result = intent.Result{Kind: intent.KindClearMemory}

			Expect(h.say(1, "forget everything")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(1))
			h.settle()

			Expect(h.entities.memory(7)).To(BeEmpty())
			Expect(h.primary.requests()[0].Memory).To(BeEmpty())
		})

		It("schedules a reminder", func() {
			h.classifier.result = intent.Result{Kind: intent.KindSetReminder, Content: "drink water", RemindInMinutes: 30}

			Expect(h.say(1, "remind me to drink water in 30 minutes")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(1))
			h.settle()

			Expect(h.reminders.tasks).To(HaveLen(1))
			task := h.reminders.tasks[0]
			Expect(task.ConversationID).To(Equal(int64(1)))
			Expect(task.EntityID).To(Equal(int64(7)))
			Expect(task.TriggerAt).To(Equal(h.now.Add(30 * time.Minute)))
			Expect(task.Prompt).To(ContainSubstring("drink water"))
			Expect(h.primary.requests()[0].Note).To(ContainSubstring("reminder"))
		})

		It("stores quiet hours", func() {
			h.classifier.result = intent.Result{Kind: intent.KindSetQuietHours, QuietStartHour: 22, QuietEndHour: 8}

			Expect(h.say(1, "don't text me from 10pm to 8am")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(1))
			h.settle()

			Expect(h.quiet.set).To(Equal([]model.QuietHours{{Enabled: true, StartHour: 22, EndHour: 8}}))
		})

		It("triggers summarization when the pass crosses the interval", func() {
			t := instant()
			t.SummaryInterval = 2
			h = newHarness(t)
			h.entity(7, "Mia")
			h.single(1, 7)

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(1))
			h.settle()

			Expect(h.summarizer.triggered()).To(Equal([][2]int64{{1, 7}}))
		})
	})

	Describe("group passes", func() {
		BeforeEach(func() {
			h.entity(8, "Leo")
			h.entity(9, "Ana")
		})

		It("runs a single round without AI-to-AI", func() {
			h.group(2, false, 7, 8, 9)

			Expect(h.say(2, "hi all")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(3))
			h.settle()
			Consistently(h.primary.count, 100*time.Millisecond).Should(Equal(3))

			var personas []string
			for _, req := range h.primary.requests() {
				personas = append(personas, req.Persona.Name)
				Expect(req.Prompt).To(Equal("hi all"))
			}
			Expect(personas).To(ConsistOf("Mia", "Leo", "Ana"))
		})

		It("stops after the first round when continuation never draws", func() {
			t := instant()
			t.ContinueProbability = 0
			h = newHarness(t)
			h.entity(7, "Mia")
			h.entity(8, "Leo")
			h.group(2, true, 7, 8)

			Expect(h.say(2, "hi")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(2))
			h.settle()
			Expect(h.primary.count()).To(Equal(2))
		})

		It("bounds AI-to-AI rounds and hands the last reply on as the prompt", func() {
			t := instant()
			t.ContinueProbability = 10
			t.GroupMaxRounds = 3
			t.MaxConsecutiveSpeaks = 1
			h = newHarness(t)
			h.entity(7, "Mia")
			h.entity(8, "Leo")
			h.group(2, true, 7, 8)

			Expect(h.say(2, "hi")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(4))
			h.settle()
			Expect(h.primary.count()).To(Equal(4))

			reqs := h.primary.requests()
			Expect(reqs[2].Prompt).To(Equal(reqs[1].Persona.Name + ": reply from " + reqs[1].Persona.Name))
			Expect(reqs[2].Persona.ID).NotTo(Equal(reqs[1].Persona.ID))
			Expect(reqs[3].Persona.ID).NotTo(Equal(reqs[2].Persona.ID))
			for _, m := range reqs[2].History {
				Expect(m.Content).NotTo(Equal("reply from " + reqs[1].Persona.Name))
			}
		})

		It("lets the last speaker continue until the consecutive cap", func() {
			t := instant()
			t.ContinueProbability = 10
			t.GroupMaxRounds = 5
			t.MaxConsecutiveSpeaks = 2
			h = newHarness(t)
			h.entity(7, "Mia")
			h.group(2, true, 7)

			Expect(h.say(2, "hi")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(2))
			h.settle()
			Consistently(h.primary.count, 100*time.Millisecond).Should(Equal(2))

			reqs := h.primary.requests()
			Expect(reqs[1].Prompt).To(Equal("Mia: reply from Mia"))
			Expect(h.convs.get(2).SpeakerStreak).To(Equal(2))
		})

		It("skips speakers the admission gate holds back", func() {
			t := instant()
			t.CooldownSeconds = 60
			h = newHarness(t)
			h.entity(7, "Mia")
			h.entity(8, "Leo")
			h.group(2, false, 7, 8)

			Expect(h.say(2, "one")).To(Succeed())
			Eventually(h.primary.count).Should(Equal(2))
			h.settle()

			Expect(h.say(2, "two")).To(Succeed())
			h.settle()
			Consistently(h.primary.count, 100*time.Millisecond).Should(Equal(2))
		})
	})

	Describe("Originate", func() {
		It("delivers a literal message without calling the backend", func() {
			err := h.orch.Originate(context.Background(), brain.Origination{
				ConversationID: 1,
				EntityID:       7,
				Message:        "time to stretch||you've been sitting a while",
				Kind:           model.MessageKindReminder,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(contents(h.msgs.byKind(1, model.MessageKindReminder))).
				To(Equal([]string{"time to stretch", "you've been sitting a while"}))
			Expect(h.primary.count()).To(Equal(0))
		})

		It("generates proactive messages from a prompt", func() {
			err := h.orch.Originate(context.Background(), brain.Origination{
				ConversationID: 1,
				EntityID:       7,
				Prompt:         "check in on the user",
				Kind:           model.MessageKindProactive,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(h.primary.count()).To(Equal(1))
			req := h.primary.requests()[0]
			Expect(req.Proactive).To(BeTrue())
			Expect(req.Prompt).To(Equal("check in on the user"))
			Expect(h.msgs.byKind(1, model.MessageKindProactive)).To(HaveLen(1))
		})

		It("refuses while a pass holds the conversation", func() {
			started := make(chan struct{}, 1)
			release := make(chan struct{})
			h.primary.generateFn = func(context.Context, backend.Request) (string, error) {
				started <- struct{}{}
				<-release
				return "ok", nil
			}

			Expect(h.say(1, "hello")).To(Succeed())
			Eventually(started).Should(Receive())

			err := h.orch.Originate(context.Background(), brain.Origination{ConversationID: 1, EntityID: 7, Message: "ping"})
			Expect(err).To(MatchError(brain.ErrConversationBusy))

			close(release)
			h.settle()
			Expect(h.msgs.byKind(1, model.MessageKindProactive)).To(BeEmpty())
		})

		It("runs user batches that arrived during origination afterwards", func() {
			started := make(chan struct{}, 1)
			release := make(chan struct{})
			h.primary.generateFn = func(_ context.Context, req backend.Request) (string, error) {
				if req.Proactive {
					started <- struct{}{}
					<-release
				}
				return "reply", nil
			}

			done := make(chan error, 1)
			go func() {
				done <- h.orch.Originate(context.Background(), brain.Origination{ConversationID: 1, EntityID: 7, Prompt: "say hi"})
			}()
			Eventually(started).Should(Receive())
			Expect(h.say(1, "are you there?")).To(Succeed())

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Eventually(h.primary.count).Should(Equal(2))
			h.settle()
			Expect(h.primary.requests()[1].Prompt).To(Equal("are you there?"))
			Expect(strings.Join(contents(h.msgs.byKind(1, model.MessageKindChat)), "|")).To(Equal("reply"))
		})
	})
})
