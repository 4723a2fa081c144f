package brain_test

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/internal/admission"
	"basegraph.app/chorus/internal/backend"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/cadence"
	"basegraph.app/chorus/internal/intent"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/responder"
	"basegraph.app/chorus/internal/store"
	"basegraph.app/chorus/internal/tuning"
)

type memConversations struct {
	mu    sync.Mutex
	convs map[int64]model.Conversation
}

func (m *memConversations) put(c model.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.ID] = c
}

func (m *memConversations) get(id int64) model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[id]
}

func (m *memConversations) GetByID(_ context.Context, id int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.MemberIDs = slices.Clone(c.MemberIDs)
	return &c, nil
}

func (m *memConversations) RecordActivity(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = *conv
	return nil
}

type memMessages struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (m *memMessages) Append(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) RecentRounds(_ context.Context, conversationID int64, rounds int) ([]model.Message, error) {
	all := m.in(conversationID)
	if n := rounds * 2; len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memMessages) Count(_ context.Context, conversationID int64) (int, error) {
	return len(m.in(conversationID)), nil
}

func (m *memMessages) in(conversationID int64) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *memMessages) byKind(conversationID int64, kind model.MessageKind) []model.Message {
	var out []model.Message
	for _, msg := range m.in(conversationID) {
		if msg.Kind == kind && !msg.FromUser() {
			out = append(out, msg)
		}
	}
	return out
}

type memEntities struct {
	mu       sync.Mutex
	entities map[int64]model.Entity
	cleared  []int64
}

func (m *memEntities) GetByID(_ context.Context, id int64) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Memory = slices.Clone(e.Memory)
	return &e, nil
}

func (m *memEntities) GetMany(ctx context.Context, ids []int64) ([]model.Entity, error) {
	var out []model.Entity
	for _, id := range ids {
		if e, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memEntities) AppendMemory(_ context.Context, entityID int64, items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entities[entityID]
	e.Memory = append(e.Memory, items...)
	m.entities[entityID] = e
	return nil
}

func (m *memEntities) ClearMemory(_ context.Context, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entities[entityID]
	e.Memory = nil
	m.entities[entityID] = e
	m.cleared = append(m.cleared, entityID)
	return nil
}

func (m *memEntities) memory(id int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entities[id].Memory)
}

type mockGenerator struct {
	generateFn func(ctx context.Context, req backend.Request) (string, error)

	mu    sync.Mutex
	calls []backend.Request
}

func (m *mockGenerator) Generate(ctx context.Context, req backend.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.generateFn != nil {
		return m.generateFn(ctx, req)
	}
	return "reply from " + req.Persona.Name, nil
}

func (m *mockGenerator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockGenerator) requests() []backend.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

type mockClassifier struct {
	result intent.Result
}

func (m *mockClassifier) Classify(context.Context, string) intent.Result {
	if m.result.Kind == "" {
		return intent.Result{Kind: intent.KindNormalChat}
	}
	return m.result
}

type mockReminders struct {
	mu    sync.Mutex
	tasks []model.ScheduledTask
}

func (m *mockReminders) ScheduleReminder(_ context.Context, task *model.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, *task)
	return nil
}

type mockQuiet struct {
	mu  sync.Mutex
	set []model.QuietHours
}

func (m *mockQuiet) SetQuietHours(_ context.Context, q model.QuietHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = append(m.set, q)
	return nil
}

type mockSummarizer struct {
	mu    sync.Mutex
	calls [][2]int64
}

func (m *mockSummarizer) Trigger(_ context.Context, conversationID, entityID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [2]int64{conversationID, entityID})
}

func (m *mockSummarizer) triggered() [][2]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// instant is tuning with every delay zeroed and every limit lifted.
func instant() tuning.Tuning {
	t := tuning.Defaults()
	t.BatchWaitSeconds = 0
	t.InterSpeakerDelayMs = 0
	t.SegmentDelayMinMs = 0
	t.SegmentDelayMaxMs = 0
	t.CooldownSeconds = 0
	t.MaxRepliesPerMinute = 0
	t.ReplyProbability = 1
	t.KeywordBoost = 0
	t.MaxConsecutiveSpeaks = 100
	return t
}

type harness struct {
	convs      *memConversations
	msgs       *memMessages
	entities   *memEntities
	primary    *mockGenerator
	direct     *mockGenerator
	classifier *mockClassifier
	reminders  *mockReminders
	quiet      *mockQuiet
	summarizer *mockSummarizer
	sup        *background.Supervisor
	orch       *brain.Orchestrator

	ids atomic.Int64
	now time.Time
}

func newHarness(t tuning.Tuning) *harness {
	src := tuning.Static(t)
	h := &harness{
		convs:      &memConversations{convs: map[int64]model.Conversation{}},
		msgs:       &memMessages{},
		entities:   &memEntities{entities: map[int64]model.Entity{}},
		primary:    &mockGenerator{},
		direct:     &mockGenerator{},
		classifier: &mockClassifier{},
		reminders:  &mockReminders{},
		quiet:      &mockQuiet{},
		summarizer: &mockSummarizer{},
		sup:        background.New(context.Background()),
		now:        time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	h.ids.Store(1000)

	h.orch = brain.New(brain.Deps{
		Conversations: h.convs,
		Messages:      h.msgs,
		Entities:      h.entities,
		Primary:       h.primary,
		Direct:        h.direct,
		Classifier:    h.classifier,
		Selector:      responder.New(src, rand.New(rand.NewPCG(1, 2))),
		Gate:          admission.New(src),
		Pacer:         cadence.NewPacer(src, rand.New(rand.NewPCG(3, 4))),
		Summarizer:    h.summarizer,
		Reminders:     h.reminders,
		Quiet:         h.quiet,
		Tuning:        src,
		Supervisor:    h.sup,
		Rand:          rand.New(rand.NewPCG(5, 6)),
		NewID:         func() int64 { return h.ids.Add(1) },
		Now:           func() time.Time { return h.now },
	})
	return h
}

func (h *harness) entity(id int64, name string) {
	h.entities.mu.Lock()
	defer h.entities.mu.Unlock()
	h.entities.entities[id] = model.Entity{ID: id, Name: name}
}

func (h *harness) single(convID, entityID int64) {
	h.convs.put(model.Conversation{ID: convID, Kind: model.ConversationKindSingle, MemberIDs: []int64{entityID}})
}

func (h *harness) group(convID int64, aiToAI bool, members ...int64) {
	h.convs.put(model.Conversation{ID: convID, Kind: model.ConversationKindGroup, MemberIDs: members, AllowAIToAI: aiToAI})
}

// say persists a user fragment the way the API server does, then submits it.
func (h *harness) say(convID int64, text string) error {
	msg := model.Message{
		ID:             h.ids.Add(1),
		ConversationID: convID,
		SenderKind:     model.SenderUser,
		Content:        text,
		Kind:           model.MessageKindChat,
	}
	_ = h.msgs.Append(context.Background(), &msg)
	return h.orch.Submit(context.Background(), convID, text)
}

func (h *harness) settle() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.sup.Wait(ctx)
}
