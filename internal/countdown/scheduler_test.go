package countdown_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/quiet"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	kindProactive = "proactive"
	kindReminder  = "reminder"
)

var _ = Describe("Draw", func() {
	It("stays within bounds over many draws", func() {
		rng := rand.New(rand.NewPCG(11, 12))
		for i := 0; i < 1000; i++ {
			d := countdown.Draw(time.Hour, 4*time.Hour, rng)
			Expect(d).To(BeNumerically(">=", time.Hour))
			Expect(d).To(BeNumerically("<=", 4*time.Hour))
		}
	})

	It("returns min for an empty range", func() {
		Expect(countdown.Draw(time.Hour, time.Hour, rand.New(rand.NewPCG(1, 1)))).To(Equal(time.Hour))
	})
})

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		handler   *recordingHandler
		filter    *quiet.Filter
		clock     func() time.Time
		scheduler *countdown.Scheduler
		runErr    chan error
	)

	start := func(initial []countdown.Entry, opts ...countdown.Option) {
		opts = append([]countdown.Option{countdown.WithClock(clock), countdown.WithRand(rand.New(rand.NewPCG(5, 6)))}, opts...)
		scheduler = countdown.New(map[string]countdown.Handler{
			kindProactive: handler,
			kindReminder:  handler,
		}, filter, background.New(ctx), opts...)

		runErr = make(chan error, 1)
		go func() { runErr <- scheduler.Run(ctx, initial) }()

		// Status is served by the event loop, so it returns once recovery is over.
		_, err := scheduler.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
	}

	status := func() []countdown.SlotStatus {
		st, err := scheduler.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
		return st
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		handler = newRecordingHandler()
		clock = time.Now
		filter = quiet.NewFilter(quiet.Window{}, clock)
	})

	AfterEach(func() {
		cancel()
		Eventually(runErr).Should(Receive(BeNil()))
	})

	Describe("arming", func() {
		var fixedNow time.Time

		BeforeEach(func() {
			fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			clock = func() time.Time { return fixedNow }
		})

		It("persists a draw within the interval bounds", func() {
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 1}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: 4 * time.Hour})).To(Succeed())

			Eventually(func() bool { _, ok := handler.Persisted(key); return ok }).Should(BeTrue())
			at, _ := handler.Persisted(key)
			Expect(at).To(BeTemporally(">=", fixedNow.Add(time.Hour)))
			Expect(at).To(BeTemporally("<=", fixedNow.Add(4*time.Hour)))

			Expect(status()).To(ConsistOf(HaveField("State", countdown.StateArmed)))
		})

		It("clears and redraws within the new bounds on reconfiguration", func() {
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 1}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: 4 * time.Hour})).To(Succeed())
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: 10 * time.Hour, Max: 12 * time.Hour})).To(Succeed())

			st := status()
			Expect(st).To(HaveLen(1))
			Expect(*st[0].NextFire).To(BeTemporally(">=", fixedNow.Add(10*time.Hour)))
			Expect(*st[0].NextFire).To(BeTemporally("<=", fixedNow.Add(12*time.Hour)))

			at, _ := handler.Persisted(key)
			Expect(at).To(Equal(*st[0].NextFire))
			Expect(handler.Calls()).To(Equal([]string{
				"clear proactive:1", "persist proactive:1",
				"clear proactive:1", "persist proactive:1",
			}))
		})

		It("keeps an armed slot when the schedule is unchanged", func() {
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 1}
			entry := countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: 4 * time.Hour}
			Expect(scheduler.Configure(ctx, entry)).To(Succeed())
			before := status()

			Expect(scheduler.Configure(ctx, entry)).To(Succeed())
			after := status()
			Expect(after).To(HaveLen(1))
			Expect(*after[0].NextFire).To(Equal(*before[0].NextFire))
			// The caller's entry has no persisted time, so the live one is written back.
			Expect(handler.Calls()).To(Equal([]string{
				"clear proactive:1", "persist proactive:1", "persist proactive:1",
			}))
			at, _ := handler.Persisted(key)
			Expect(at).To(Equal(*before[0].NextFire))
		})

		It("clears and drops a disabled slot", func() {
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 3}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: time.Hour})).To(Succeed())
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: false})).To(Succeed())

			Expect(status()).To(BeEmpty())
			_, ok := handler.Persisted(key)
			Expect(ok).To(BeFalse())
		})

		It("cancels a slot", func() {
			start(nil)
			key := countdown.Key{Kind: kindReminder, ID: 4}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, At: fixedNow.Add(time.Hour)})).To(Succeed())
			Expect(scheduler.Cancel(ctx, key)).To(Succeed())

			Expect(status()).To(BeEmpty())
			Expect(handler.Calls()).To(HaveExactElements("clear reminder:4", "persist reminder:4", "clear reminder:4"))
		})
	})

	Describe("cold start", func() {
		var fixedNow time.Time

		BeforeEach(func() {
			fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			clock = func() time.Time { return fixedNow }
			filter = quiet.NewFilter(quiet.Window{}, clock)
		})

		It("delivers a past-due reminder once and completes it before arming anything", func() {
			reminder := countdown.Key{Kind: kindReminder, ID: 7}
			proactive := countdown.Key{Kind: kindProactive, ID: 8}
			past := fixedNow.Add(-10 * time.Minute)

			start([]countdown.Entry{
				{Key: proactive, Enabled: true, Min: time.Hour, Max: 2 * time.Hour},
				{Key: reminder, Enabled: true, At: past, NextFire: &past},
			})

			Expect(handler.Fires()).To(Equal(1))
			Expect(handler.Calls()).To(HaveExactElements(
				"fire reminder:7", "clear reminder:7", "complete reminder:7",
				"persist proactive:8",
			))
			Expect(status()).To(ConsistOf(HaveField("Key", proactive)))
		})

		It("fires a past-due proactive entry and then redraws", func() {
			key := countdown.Key{Kind: kindProactive, ID: 2}
			past := fixedNow.Add(-time.Hour)
			start([]countdown.Entry{{Key: key, Enabled: true, Min: time.Hour, Max: 2 * time.Hour, NextFire: &past}})

			Expect(handler.Calls()).To(HaveExactElements("fire proactive:2", "clear proactive:2", "persist proactive:2"))
			at, _ := handler.Persisted(key)
			Expect(at).To(BeTemporally(">=", fixedNow.Add(time.Hour)))
		})

		It("keeps a future persisted time", func() {
			key := countdown.Key{Kind: kindProactive, ID: 2}
			future := fixedNow.Add(37 * time.Minute)
			start([]countdown.Entry{{Key: key, Enabled: true, Min: time.Hour, Max: 2 * time.Hour, NextFire: &future}})

			Expect(handler.Calls()).To(BeEmpty())
			st := status()
			Expect(st).To(HaveLen(1))
			Expect(*st[0].NextFire).To(Equal(future))
		})

		It("advances a repeating reminder past now", func() {
			key := countdown.Key{Kind: kindReminder, ID: 9}
			at := fixedNow.Add(-25 * time.Hour)
			start([]countdown.Entry{{Key: key, Enabled: true, At: at, Every: 24 * time.Hour, NextFire: &at}})

			Expect(handler.Fires()).To(Equal(1))
			next, ok := handler.Persisted(key)
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(at.Add(48 * time.Hour)))
			Expect(handler.Calls()).NotTo(ContainElement("complete reminder:9"))
		})

		It("holds missed entries during quiet hours and fires them on flush", func() {
			filter = quiet.NewFilter(quiet.Window{Enabled: true, StartHour: 0, EndHour: 23}, clock)
			key := countdown.Key{Kind: kindReminder, ID: 5}
			past := fixedNow.Add(-time.Minute)
			start([]countdown.Entry{{Key: key, Enabled: true, At: past}})

			Expect(handler.Fires()).To(Equal(0))
			Expect(filter.Pending()).To(Equal(1))
			Expect(status()).To(ConsistOf(HaveField("State", countdown.StateDeferred)))

			filter.SetWindow(quiet.Window{})
			Expect(filter.Flush(ctx)).To(Equal(1))
			Eventually(handler.Fires).Should(Equal(1))
			Eventually(handler.Calls).Should(ContainElement("complete reminder:5"))
		})

		It("fires a held entry once when triggered before the window ends", func() {
			filter = quiet.NewFilter(quiet.Window{Enabled: true, StartHour: 0, EndHour: 23}, clock)
			key := countdown.Key{Kind: kindProactive, ID: 2}
			past := fixedNow.Add(-time.Minute)
			start([]countdown.Entry{{Key: key, Enabled: true, Min: time.Hour, Max: 2 * time.Hour, NextFire: &past}})
			Expect(filter.Pending()).To(Equal(1))

			Expect(scheduler.Trigger(ctx, key)).To(Succeed())
			Eventually(handler.Fires).Should(Equal(1))
			Eventually(status).Should(ConsistOf(HaveField("State", countdown.StateArmed)))
			next := *status()[0].NextFire

			filter.SetWindow(quiet.Window{})
			Expect(filter.Flush(ctx)).To(Equal(1))
			Consistently(handler.Fires, 100*time.Millisecond).Should(Equal(1))
			Expect(status()).To(ConsistOf(HaveField("NextFire", HaveValue(Equal(next)))))
		})

		It("keeps a held entry owed when its unchanged schedule is configured again", func() {
			filter = quiet.NewFilter(quiet.Window{Enabled: true, StartHour: 0, EndHour: 23}, clock)
			key := countdown.Key{Kind: kindProactive, ID: 3}
			past := fixedNow.Add(-time.Minute)
			start([]countdown.Entry{{Key: key, Enabled: true, Min: time.Hour, Max: 2 * time.Hour, NextFire: &past}})

			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: 2 * time.Hour})).To(Succeed())
			Expect(status()).To(ConsistOf(HaveField("State", countdown.StateDeferred)))
			at, ok := handler.Persisted(key)
			Expect(ok).To(BeTrue())
			Expect(at).To(Equal(past))

			filter.SetWindow(quiet.Window{})
			Expect(filter.Flush(ctx)).To(Equal(1))
			Eventually(handler.Fires).Should(Equal(1))
		})

		It("takes the recovery lock", func() {
			var locked, unlocked bool
			start(nil, countdown.WithLocker(lockerFunc(func(ctx context.Context) (func(), error) {
				locked = true
				return func() { unlocked = true }, nil
			})))
			Expect(locked).To(BeTrue())
			Expect(unlocked).To(BeTrue())
		})
	})

	Describe("firing", func() {
		It("re-arms after a failed firing", func() {
			handler.fireFn = func(ctx context.Context, key countdown.Key) error {
				return errors.New("backend down")
			}
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 1}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: 10 * time.Millisecond, Max: 20 * time.Millisecond})).To(Succeed())

			Eventually(handler.Fires, time.Second).Should(BeNumerically(">=", 2))
			Expect(status()).To(HaveLen(1))
		})

		It("completes a one-shot reminder after delivery", func() {
			start(nil)
			key := countdown.Key{Kind: kindReminder, ID: 2}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, At: time.Now().Add(10 * time.Millisecond)})).To(Succeed())

			Eventually(handler.Calls, time.Second).Should(ContainElement("complete reminder:2"))
			Expect(handler.Fires()).To(Equal(1))
			Expect(status()).To(BeEmpty())
		})

		It("retries a postponed firing without completing it", func() {
			attempts := 0
			handler.fireFn = func(ctx context.Context, key countdown.Key) error {
				attempts++
				if attempts == 1 {
					return countdown.ErrRetry
				}
				return nil
			}
			start(nil, countdown.WithRetryDelay(20*time.Millisecond))
			key := countdown.Key{Kind: kindReminder, ID: 3}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, At: time.Now()})).To(Succeed())

			Eventually(handler.Calls, time.Second).Should(ContainElement("complete reminder:3"))
			Expect(handler.Fires()).To(Equal(2))
		})

		It("ignores a firing made stale by reconfiguration", func() {
			release := make(chan struct{})
			handler.fireFn = func(ctx context.Context, key countdown.Key) error {
				<-release
				return nil
			}
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 6}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: 0, Max: 0})).To(Succeed())
			Eventually(handler.Fires, time.Second).Should(Equal(1))

			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: time.Hour})).To(Succeed())
			close(release)

			Consistently(func() []countdown.SlotStatus { return status() }, 100*time.Millisecond).Should(
				ConsistOf(HaveField("State", countdown.StateArmed)))
			at, _ := handler.Persisted(key)
			Expect(at).To(BeTemporally(">", time.Now().Add(59*time.Minute)))
		})

		It("triggers a slot on demand", func() {
			start(nil)
			key := countdown.Key{Kind: kindProactive, ID: 1}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: time.Hour, Max: time.Hour})).To(Succeed())

			Expect(scheduler.Trigger(ctx, key)).To(Succeed())
			Eventually(handler.Fires, time.Second).Should(Equal(1))
			Expect(scheduler.Trigger(ctx, countdown.Key{Kind: kindProactive, ID: 99})).To(MatchError(countdown.ErrUnknownKey))
		})

		It("refuses to trigger a slot that is already firing", func() {
			release := make(chan struct{})
			handler.fireFn = func(ctx context.Context, key countdown.Key) error {
				<-release
				return nil
			}
			start(nil)
			key := countdown.Key{Kind: kindReminder, ID: 8}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, At: time.Now()})).To(Succeed())
			Eventually(handler.Fires, time.Second).Should(Equal(1))

			Expect(scheduler.Trigger(ctx, key)).To(MatchError(countdown.ErrBusy))
			close(release)

			Eventually(handler.Calls, time.Second).Should(ContainElement("complete reminder:8"))
			Expect(handler.Fires()).To(Equal(1))
		})

		It("defers an expiring countdown while quiet", func() {
			filter.SetWindow(quiet.Window{Enabled: true, StartHour: 0, EndHour: 23})
			start(nil)
			if !filter.IsQuiet() {
				Skip("test process clock is in the 23:00 hour")
			}
			key := countdown.Key{Kind: kindProactive, ID: 4}
			Expect(scheduler.Configure(ctx, countdown.Entry{Key: key, Enabled: true, Min: 5 * time.Millisecond, Max: 5 * time.Millisecond})).To(Succeed())

			Eventually(filter.Pending, time.Second).Should(Equal(1))
			Expect(handler.Fires()).To(Equal(0))
		})
	})
})

type lockerFunc func(ctx context.Context) (func(), error)

func (f lockerFunc) Lock(ctx context.Context) (func(), error) { return f(ctx) }
