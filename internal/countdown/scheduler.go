// Package countdown is the time-based trigger shared by proactive messages and
// reminders. A single goroutine owns every slot and timer; callers talk to it
// through events.
package countdown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/quiet"
)

// QuietGate is the part of quiet.Filter the scheduler needs.
type QuietGate interface {
	IsQuiet() bool
	Defer(d quiet.Deferred)
}

// Locker serializes recovery across processes.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

type slot struct {
	entry Entry
	gen   uint64
	state State
	timer *time.Timer
	next  time.Time
	// anchor is the last scheduled occurrence of a fixed entry, so retries do
	// not shift a repeating schedule.
	anchor time.Time
}

type (
	configureEvent struct{ entry Entry }
	cancelEvent    struct{ key Key }
	fireEvent      struct {
		key    Key
		gen    uint64
		manual bool
		reply  chan error
	}
	firedEvent struct {
		key Key
		gen uint64
		err error
	}
	statusEvent struct{ reply chan []SlotStatus }
)

type Scheduler struct {
	handlers    map[string]Handler
	quiet       QuietGate
	sup         *background.Supervisor
	locker      Locker
	now         func() time.Time
	rng         *rand.Rand
	fireTimeout time.Duration
	retryDelay  time.Duration

	events chan any
	done   chan struct{}
	slots  map[Key]*slot
	gen    uint64
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }
func WithRand(rng *rand.Rand) Option        { return func(s *Scheduler) { s.rng = rng } }
func WithLocker(l Locker) Option            { return func(s *Scheduler) { s.locker = l } }

func WithFireTimeout(d time.Duration) Option { return func(s *Scheduler) { s.fireTimeout = d } }
func WithRetryDelay(d time.Duration) Option  { return func(s *Scheduler) { s.retryDelay = d } }

func New(handlers map[string]Handler, gate QuietGate, sup *background.Supervisor, opts ...Option) *Scheduler {
	s := &Scheduler{
		handlers:    handlers,
		quiet:       gate,
		sup:         sup,
		now:         time.Now,
		fireTimeout: 3 * time.Minute,
		retryDelay:  time.Minute,
		events:      make(chan any, 64),
		done:        make(chan struct{}),
		slots:       make(map[Key]*slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Configure arms, re-arms or disables a slot. When the schedule changed, any
// pending countdown for the key is cancelled and its persisted time cleared
// first; an unchanged schedule leaves the running slot alone.
func (s *Scheduler) Configure(ctx context.Context, e Entry) error {
	return s.send(ctx, configureEvent{entry: e})
}

func (s *Scheduler) Cancel(ctx context.Context, key Key) error {
	return s.send(ctx, cancelEvent{key: key})
}

// Trigger fires a slot now, ignoring the quiet window.
func (s *Scheduler) Trigger(ctx context.Context, key Key) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, fireEvent{key: key, manual: true, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Status(ctx context.Context) ([]SlotStatus, error) {
	reply := make(chan []SlotStatus, 1)
	if err := s.send(ctx, statusEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) send(ctx context.Context, ev any) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return errors.New("countdown: scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used from timer and worker goroutines.
func (s *Scheduler) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run recovers initial, then serves events until ctx is done. Entries whose
// persisted time has passed fire, in order, before any timer is armed.
func (s *Scheduler) Run(ctx context.Context, initial []Entry) error {
	defer close(s.done)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "chorus.countdown.scheduler"})

	if err := s.recover(ctx, initial); err != nil {
		return err
	}
	slog.InfoContext(ctx, "countdown scheduler started", "slots", len(s.slots))

	for {
		select {
		case <-ctx.Done():
			for _, sl := range s.slots {
				s.stop(sl)
			}
			slog.InfoContext(ctx, "countdown scheduler stopped")
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
			s.updateGauges()
		}
	}
}

func (s *Scheduler) recover(ctx context.Context, initial []Entry) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx)
		if err != nil {
			return fmt.Errorf("acquire recovery lock: %w", err)
		}
		defer unlock()
	}

	now := s.now()
	var toArm []*slot
	missed := 0

	for _, e := range initial {
		if !e.Enabled {
			continue
		}
		if _, ok := s.handlers[e.Key.Kind]; !ok {
			slog.WarnContext(ctx, "no handler for countdown kind, skipping", "key", e.Key.String())
			continue
		}

		sl := s.newSlot(e)
		due, hasDue := e.due()
		if !hasDue || due.After(now) {
			toArm = append(toArm, sl)
			continue
		}

		missed++
		if s.quiet.IsQuiet() {
			slog.InfoContext(ctx, "missed countdown held for quiet window", "key", e.Key.String(), "due", due)
			s.deferSlot(sl)
			continue
		}

		slog.InfoContext(ctx, "firing missed countdown", "key", e.Key.String(), "due", due)
		sl.state = StateFiring
		err := s.fire(ctx, e.Key)
		if !s.settle(ctx, sl, err) {
			continue
		}
		toArm = append(toArm, sl)
	}

	for _, sl := range toArm {
		s.arm(ctx, sl, true)
	}
	if missed > 0 {
		slog.InfoContext(ctx, "countdown recovery complete", "missed", missed, "armed", len(toArm))
	}
	return nil
}

func (s *Scheduler) newSlot(e Entry) *slot {
	s.gen++
	sl := &slot{entry: e, gen: s.gen, state: StateIdle}
	s.slots[e.Key] = sl
	return sl
}

func (s *Scheduler) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case configureEvent:
		s.configure(ctx, ev.entry)
	case cancelEvent:
		s.cancel(ctx, ev.key)
	case fireEvent:
		err := s.onFire(ctx, ev)
		if ev.reply != nil {
			ev.reply <- err
		}
	case firedEvent:
		s.onFired(ctx, ev)
	case statusEvent:
		ev.reply <- s.status()
	}
}

func (s *Scheduler) configure(ctx context.Context, e Entry) {
	h, ok := s.handlers[e.Key.Kind]
	if !ok {
		slog.WarnContext(ctx, "no handler for countdown kind", "key", e.Key.String())
		return
	}

	if old, ok := s.slots[e.Key]; ok {
		if e.Enabled && old.entry.sameSchedule(e) {
			s.keep(ctx, old, e)
			return
		}
		s.stop(old)
		delete(s.slots, e.Key)
	}
	if err := h.Clear(ctx, e.Key); err != nil {
		slog.ErrorContext(ctx, "failed to clear countdown", "key", e.Key.String(), "error", err)
	}
	if !e.Enabled {
		slog.DebugContext(ctx, "countdown disabled", "key", e.Key.String())
		return
	}

	e.NextFire = nil
	s.arm(ctx, s.newSlot(e), false)
}

// keep leaves a slot whose schedule did not change running as it is: an
// armed timer keeps its time and a past-due deferral stays owed. Only the
// persisted time is restored if the caller's copy lost it.
func (s *Scheduler) keep(ctx context.Context, sl *slot, e Entry) {
	slog.DebugContext(ctx, "countdown unchanged, keeping slot", "key", e.Key.String(), "state", string(sl.state))
	cur := sl.entry.NextFire
	if sl.state == StateFiring || cur == nil {
		return
	}
	if e.NextFire != nil && e.NextFire.Equal(*cur) {
		return
	}
	if err := s.handlers[e.Key.Kind].Persist(ctx, e.Key, *cur); err != nil {
		slog.ErrorContext(ctx, "failed to persist countdown", "key", e.Key.String(), "error", err)
	}
}

func (s *Scheduler) cancel(ctx context.Context, key Key) {
	sl, ok := s.slots[key]
	if !ok {
		return
	}
	s.stop(sl)
	delete(s.slots, key)
	if err := s.handlers[key.Kind].Clear(ctx, key); err != nil {
		slog.ErrorContext(ctx, "failed to clear countdown", "key", key.String(), "error", err)
	}
	slog.DebugContext(ctx, "countdown cancelled", "key", key.String())
}

// arm computes the next fire time, persists it, then starts the timer. With
// keepPersisted a future persisted time is reused instead of redrawn.
func (s *Scheduler) arm(ctx context.Context, sl *slot, keepPersisted bool) {
	now := s.now()

	var next time.Time
	switch {
	case keepPersisted && sl.entry.NextFire != nil && sl.entry.NextFire.After(now):
		next = *sl.entry.NextFire
		if sl.entry.fixed() {
			sl.anchor = next
		}
	case sl.entry.fixed():
		next = s.nextFixed(sl, now)
		sl.anchor = next
	default:
		next = now.Add(Draw(sl.entry.Min, sl.entry.Max, s.rng))
	}
	s.armAt(ctx, sl, next, !keepPersisted || sl.entry.NextFire == nil || !next.Equal(*sl.entry.NextFire))
}

func (s *Scheduler) armAt(ctx context.Context, sl *slot, next time.Time, persist bool) {
	key := sl.entry.Key
	if persist {
		if err := s.handlers[key.Kind].Persist(ctx, key, next); err != nil {
			slog.ErrorContext(ctx, "failed to persist countdown", "key", key.String(), "error", err)
		}
	}
	t := next
	sl.entry.NextFire = &t

	// Every arm starts a new generation, so timers and quiet deferrals left
	// from an earlier countdown of this slot cannot fire it.
	s.gen++
	sl.gen = s.gen

	sl.next = next
	sl.state = StateArmed
	gen := sl.gen
	delay := max(next.Sub(s.now()), 0)
	sl.timer = time.AfterFunc(delay, func() {
		s.post(fireEvent{key: key, gen: gen})
	})
	slog.DebugContext(ctx, "countdown armed", "key", key.String(), "next_fire", next, "in", delay.Round(time.Second).String())
}

// nextFixed returns At for the first firing and advances by Every after that,
// skipping occurrences already in the past.
func (s *Scheduler) nextFixed(sl *slot, now time.Time) time.Time {
	next := sl.entry.At
	switch {
	case !sl.anchor.IsZero():
		next = sl.anchor
	case sl.entry.NextFire != nil:
		next = *sl.entry.NextFire
	}
	if sl.entry.Every <= 0 || next.After(now) {
		return next
	}
	for !next.After(now) {
		next = next.Add(sl.entry.Every)
	}
	return next
}

func (s *Scheduler) onFire(ctx context.Context, ev fireEvent) error {
	sl, ok := s.slots[ev.key]
	if !ok {
		return ErrUnknownKey
	}
	if ev.manual {
		if sl.state == StateFiring {
			return ErrBusy
		}
		ev.gen = sl.gen
	}
	if sl.gen != ev.gen || sl.state == StateFiring {
		return nil
	}

	if !ev.manual && s.quiet.IsQuiet() {
		s.stop(sl)
		s.deferSlot(sl)
		slog.InfoContext(ctx, "countdown deferred by quiet window", "key", ev.key.String())
		return nil
	}

	s.stop(sl)
	sl.state = StateFiring
	key, gen := sl.entry.Key, sl.gen
	s.sup.Go(ctx, "countdown.fire", func(ctx context.Context) error {
		s.post(firedEvent{key: key, gen: gen, err: s.fire(ctx, key)})
		return nil
	})
	return nil
}

func (s *Scheduler) deferSlot(sl *slot) {
	sl.state = StateDeferred
	key, gen := sl.entry.Key, sl.gen
	s.quiet.Defer(quiet.Deferred{
		Key: key.String(),
		Run: func(context.Context) { s.post(fireEvent{key: key, gen: gen}) },
	})
}

func (s *Scheduler) fire(ctx context.Context, key Key) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Slot: logger.Ptr(key.String())})
	fctx, cancel := context.WithTimeout(ctx, s.fireTimeout)
	defer cancel()

	span := logger.StartSpan(fctx, "countdown.fire."+key.Kind)
	defer span.End()

	err := s.handlers[key.Kind].Fire(span.Context(), key)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *Scheduler) onFired(ctx context.Context, ev firedEvent) {
	sl, ok := s.slots[ev.key]
	if !ok || sl.gen != ev.gen {
		slog.DebugContext(ctx, "ignoring stale countdown result", "key", ev.key.String())
		return
	}
	if s.settle(ctx, sl, ev.err) {
		s.arm(ctx, sl, false)
	}
}

// settle records the outcome of a firing. It returns true when the slot should
// be armed again and false when it is finished or already re-armed.
func (s *Scheduler) settle(ctx context.Context, sl *slot, err error) bool {
	key := sl.entry.Key
	h := s.handlers[key.Kind]

	if errors.Is(err, ErrRetry) {
		metrics.CountdownFires.WithLabelValues(key.Kind, "retry").Inc()
		slog.InfoContext(ctx, "countdown firing postponed", "key", key.String(), "retry_in", s.retryDelay.String(), "reason", err)
		s.armAt(ctx, sl, s.now().Add(s.retryDelay), true)
		return false
	}

	if err != nil {
		metrics.CountdownFires.WithLabelValues(key.Kind, "failed").Inc()
		slog.ErrorContext(ctx, "countdown firing failed", "key", key.String(), "error", err)
	} else {
		metrics.CountdownFires.WithLabelValues(key.Kind, "delivered").Inc()
	}

	if cerr := h.Clear(ctx, key); cerr != nil {
		slog.ErrorContext(ctx, "failed to clear countdown", "key", key.String(), "error", cerr)
	}

	if sl.entry.recurring() {
		sl.state = StateIdle
		return true
	}

	if cerr := h.Complete(ctx, key); cerr != nil {
		slog.ErrorContext(ctx, "failed to complete countdown", "key", key.String(), "error", cerr)
	}
	delete(s.slots, key)
	return false
}

func (s *Scheduler) stop(sl *slot) {
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
}

func (s *Scheduler) status() []SlotStatus {
	out := make([]SlotStatus, 0, len(s.slots))
	for _, sl := range s.slots {
		st := SlotStatus{Key: sl.entry.Key, State: sl.state}
		if !sl.next.IsZero() {
			next := sl.next
			st.NextFire = &next
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b SlotStatus) int {
		if c := cmp.Compare(a.Key.Kind, b.Key.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.ID, b.Key.ID)
	})
	return out
}

func (s *Scheduler) updateGauges() {
	armed := map[string]int{}
	for kind := range s.handlers {
		armed[kind] = 0
	}
	for _, sl := range s.slots {
		if sl.state == StateArmed {
			armed[sl.entry.Key.Kind]++
		}
	}
	for kind, n := range armed {
		metrics.CountdownArmed.WithLabelValues(kind).Set(float64(n))
	}
}
