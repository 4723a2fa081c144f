// Package brain runs conversation passes: it batches user fragments, keeps
// one pass per conversation in flight, picks speakers, generates replies and
// delivers them at a human pace.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/admission"
	"basegraph.app/chorus/internal/backend"
	"basegraph.app/chorus/internal/cadence"
	"basegraph.app/chorus/internal/intent"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/notify"
	"basegraph.app/chorus/internal/responder"
	"basegraph.app/chorus/internal/store"
	"basegraph.app/chorus/internal/tuning"
)

type Conversations interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	RecordActivity(ctx context.Context, conv *model.Conversation) error
}

type Messages interface {
	Append(ctx context.Context, msg *model.Message) error
	RecentRounds(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error)
	Count(ctx context.Context, conversationID int64) (int, error)
}

type Entities interface {
	GetByID(ctx context.Context, id int64) (*model.Entity, error)
	GetMany(ctx context.Context, ids []int64) ([]model.Entity, error)
	AppendMemory(ctx context.Context, entityID int64, items []string) error
	ClearMemory(ctx context.Context, entityID int64) error
}

// Reminders persists and arms a reminder created from chat.
type Reminders interface {
	ScheduleReminder(ctx context.Context, task *model.ScheduledTask) error
}

// QuietHours persists the window and applies it to live filtering.
type QuietHours interface {
	SetQuietHours(ctx context.Context, q model.QuietHours) error
}

type Summarizer interface {
	Trigger(ctx context.Context, conversationID, entityID int64)
}

type Deps struct {
	Conversations Conversations
	Messages      Messages
	Entities      Entities

	// Primary is tried first; Direct is the fallback with freshly rebuilt context.
	Primary backend.Generator
	Direct  backend.Generator

	Classifier intent.Classifier
	Selector   *responder.Selector
	Gate       *admission.Gate
	Pacer      *cadence.Pacer
	Summarizer Summarizer
	Notifier   notify.Notifier
	Reminders  Reminders
	Quiet      QuietHours

	Tuning     tuning.Source
	Supervisor *background.Supervisor

	// Optional.
	Rand  *rand.Rand
	NewID func() int64
	Now   func() time.Time
}

type batch struct {
	fragments []string
	timer     *time.Timer
	seq       uint64
}

// flight marks a conversation with a pass in progress. Flushes arriving
// meanwhile merge into requeued and run right after, on the same goroutine.
type flight struct {
	requeued []string
}

func (f *flight) take() []string {
	fragments := f.requeued
	f.requeued = nil
	return fragments
}

type Orchestrator struct {
	deps Deps

	mu      sync.Mutex
	pending map[int64]*batch
	flights map[int64]*flight

	rngMu sync.Mutex
}

func New(deps Deps) *Orchestrator {
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.NewID == nil {
		deps.NewID = id.New
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	return &Orchestrator{
		deps:    deps,
		pending: make(map[int64]*batch),
		flights: make(map[int64]*flight),
	}
}

// Submit adds a user fragment to the conversation's pending batch and
// restarts its debounce timer. The fragment must already be persisted.
func (o *Orchestrator) Submit(ctx context.Context, conversationID int64, fragment string) error {
	if strings.TrimSpace(fragment) == "" {
		return NewFatalError(errors.New("empty fragment"))
	}
	if _, err := o.deps.Conversations.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewFatalError(fmt.Errorf("conversation %d: %w", conversationID, err))
		}
		return NewRetryableError(fmt.Errorf("get conversation: %w", err))
	}

	wait := o.deps.Tuning.Current().BatchWait()

	o.mu.Lock()
	b, ok := o.pending[conversationID]
	if !ok {
		b = &batch{}
		o.pending[conversationID] = b
	}
	b.fragments = append(b.fragments, fragment)
	b.seq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	if wait <= 0 {
		fragments := b.fragments
		delete(o.pending, conversationID)
		o.mu.Unlock()
		o.flush(ctx, conversationID, fragments)
		return nil
	}

	seq := b.seq
	b.timer = time.AfterFunc(wait, func() {
		o.mu.Lock()
		cur, ok := o.pending[conversationID]
		if !ok || cur.seq != seq {
			o.mu.Unlock()
			return
		}
		fragments := cur.fragments
		delete(o.pending, conversationID)
		o.mu.Unlock()
		o.flush(ctx, conversationID, fragments)
	})
	o.mu.Unlock()
	return nil
}

// Busy reports whether a pass currently holds the conversation.
func (o *Orchestrator) Busy(conversationID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.flights[conversationID]
	return ok
}

func (o *Orchestrator) flush(ctx context.Context, conversationID int64, fragments []string) {
	o.mu.Lock()
	if f, ok := o.flights[conversationID]; ok {
		f.requeued = append(f.requeued, fragments...)
		o.mu.Unlock()
		metrics.Requeued.Inc()
		slog.DebugContext(ctx, "conversation busy, batch requeued", "conversation_id", conversationID)
		return
	}
	f := &flight{}
	o.flights[conversationID] = f
	o.mu.Unlock()

	started := o.deps.Supervisor.Go(ctx, "brain.pass", func(ctx context.Context) error {
		o.drive(ctx, conversationID, f, fragments)
		return nil
	})
	if !started {
		o.release(conversationID, f)
	}
}

// drive runs a batch and then every requeued batch until none is left. The
// flight is released on every exit path.
func (o *Orchestrator) drive(ctx context.Context, conversationID int64, f *flight, fragments []string) {
	defer o.release(conversationID, f)
	for len(fragments) > 0 {
		o.userPass(ctx, conversationID, fragments)

		o.mu.Lock()
		fragments = f.take()
		if len(fragments) == 0 {
			o.releaseLocked(conversationID, f)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) release(conversationID int64, f *flight) {
	o.mu.Lock()
	o.releaseLocked(conversationID, f)
	o.mu.Unlock()
}

func (o *Orchestrator) releaseLocked(conversationID int64, f *flight) {
	if o.flights[conversationID] == f {
		delete(o.flights, conversationID)
	}
}

// Origination is a message the engine starts on its own.
type Origination struct {
	ConversationID int64
	EntityID       int64
	// Exactly one of Message (delivered verbatim) and Prompt (generated) is used;
	// Message wins when both are set.
	Message string
	Prompt  string
	Kind    model.MessageKind
}

// Originate delivers a proactive or reminder message. It returns
// ErrConversationBusy without side effects while a pass is running. User
// batches that arrive during origination run right after it.
func (o *Orchestrator) Originate(ctx context.Context, req Origination) error {
	o.mu.Lock()
	if _, ok := o.flights[req.ConversationID]; ok {
		o.mu.Unlock()
		return ErrConversationBusy
	}
	f := &flight{}
	o.flights[req.ConversationID] = f
	o.mu.Unlock()

	handedOff := false
	defer func() {
		if !handedOff {
			o.release(req.ConversationID, f)
		}
	}()

	err := o.originate(ctx, req)

	o.mu.Lock()
	next := f.take()
	if len(next) == 0 {
		o.releaseLocked(req.ConversationID, f)
	}
	o.mu.Unlock()
	handedOff = true

	if len(next) > 0 {
		started := o.deps.Supervisor.Go(ctx, "brain.pass", func(ctx context.Context) error {
			o.drive(ctx, req.ConversationID, f, next)
			return nil
		})
		if !started {
			o.release(req.ConversationID, f)
		}
	}
	return err
}

func (o *Orchestrator) draw() float64 {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.deps.Rand.Float64()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func passContext(ctx context.Context, conversationID int64) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conversationID),
		Component:      "chorus.brain.orchestrator",
	})
}
