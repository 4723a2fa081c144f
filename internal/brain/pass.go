package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/backend"
	"basegraph.app/chorus/internal/intent"
	"basegraph.app/chorus/internal/memory"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/responder"
	"basegraph.app/chorus/internal/tuning"
)

const previewRunes = 80

// pass carries the state of one orchestration pass.
type pass struct {
	conv    *model.Conversation
	history []model.Message
	// prompted holds the messages currently standing in as the prompt; they
	// are kept out of history, including history rebuilt for the fallback.
	prompted []model.Message
	names    map[int64]string
	// speakers that delivered at least one segment, for summarization.
	speakers   []int64
	countStart int
}

func (o *Orchestrator) userPass(ctx context.Context, conversationID int64, fragments []string) {
	ctx = passContext(ctx, conversationID)
	span := logger.StartSpan(ctx, "brain.pass")
	defer span.End()
	ctx = span.Context()

	conv, err := o.deps.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		metrics.Passes.WithLabelValues("user", "failed").Inc()
		slog.ErrorContext(ctx, "failed to load conversation for pass", "error", err)
		return
	}

	p, err := o.begin(ctx, conv, fragments)
	if err != nil {
		span.RecordError(err)
		metrics.Passes.WithLabelValues(string(conv.Kind), "failed").Inc()
		slog.ErrorContext(ctx, "failed to prepare pass", "error", err)
		return
	}
	conv.RecordSpeaker(model.UserSpeakerID)

	text := strings.Join(fragments, "\n")
	start := time.Now()
	if conv.IsGroup() {
		err = o.groupPass(ctx, p, text)
	} else {
		err = o.singlePass(ctx, p, text)
	}
	o.finish(ctx, p)

	if err != nil {
		span.RecordError(err)
		metrics.Passes.WithLabelValues(string(conv.Kind), "failed").Inc()
		slog.WarnContext(ctx, "pass ended with error", "error", err)
		return
	}
	metrics.Passes.WithLabelValues(string(conv.Kind), "ok").Inc()
	slog.InfoContext(ctx, "pass complete",
		"speakers", len(p.speakers),
		"duration_ms", time.Since(start).Milliseconds())
}

// begin loads what a pass needs. fragments is the user batch being
// answered, nil when the engine speaks on its own.
func (o *Orchestrator) begin(ctx context.Context, conv *model.Conversation, fragments []string) (*pass, error) {
	count, err := o.deps.Messages.Count(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	p := &pass{conv: conv, names: map[int64]string{}, countStart: count}
	msgs, err := o.recent(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	p.history, p.prompted = splitBatch(msgs, fragments)
	// The batch was counted before the pass; its messages belong to this pass.
	p.countStart -= len(p.prompted)
	return p, nil
}

func (o *Orchestrator) recent(ctx context.Context, conversationID int64) ([]model.Message, error) {
	msgs, err := o.deps.Messages.RecentRounds(ctx, conversationID, o.deps.Tuning.Current().HistoryRounds)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	return msgs, nil
}

// rebuild re-reads the history from the store for the fallback backend,
// leaving out whatever is being answered.
func (o *Orchestrator) rebuild(ctx context.Context, p *pass) ([]model.Message, error) {
	msgs, err := o.recent(ctx, p.conv.ID)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]bool, len(p.prompted))
	for _, m := range p.prompted {
		skip[m.ID] = true
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if !skip[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

// splitBatch moves the persisted user messages carrying fragments out of the
// history, matching newest first. A requeued batch can sit before the reply
// to the previous one, so position alone does not identify it.
func splitBatch(msgs []model.Message, fragments []string) (history, batch []model.Message) {
	if len(fragments) == 0 {
		return msgs, nil
	}
	want := make(map[string]int, len(fragments))
	for _, f := range fragments {
		want[f]++
	}

	taken := make(map[int]bool, len(fragments))
	for i := len(msgs) - 1; i >= 0 && len(taken) < len(fragments); i-- {
		m := msgs[i]
		if m.FromUser() && want[m.Content] > 0 {
			want[m.Content]--
			taken[i] = true
		}
	}

	history = make([]model.Message, 0, len(msgs)-len(taken))
	for i, m := range msgs {
		if taken[i] {
			batch = append(batch, m)
		} else {
			history = append(history, m)
		}
	}
	return history, batch
}

func (o *Orchestrator) singlePass(ctx context.Context, p *pass, text string) error {
	if len(p.conv.MemberIDs) == 0 {
		return errors.New("conversation has no members")
	}
	entity, err := o.deps.Entities.GetByID(ctx, p.conv.MemberIDs[0])
	if err != nil {
		return fmt.Errorf("get entity: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{EntityID: logger.Ptr(entity.ID)})

	res := o.deps.Classifier.Classify(ctx, text)
	note := o.apply(ctx, p.conv, entity, res)

	t := o.deps.Tuning.Current()
	reply, err := o.generate(ctx, p, entity, backend.Request{
		Persona:     *entity,
		Prompt:      text,
		History:     p.history,
		Memory:      entity.Memory,
		Note:        note,
		Temperature: t.ChatTemperature,
	})
	if err != nil {
		return o.failVisible(ctx, p, entity, err)
	}
	_, err = o.deliver(ctx, p, entity, reply, model.MessageKindChat)
	return err
}

// apply performs the side effect the classifier found and returns a note
// for the reply prompt. Failures are logged and leave the note empty.
func (o *Orchestrator) apply(ctx context.Context, conv *model.Conversation, entity *model.Entity, res intent.Result) string {
	switch res.Kind {
	case intent.KindSetMemory:
		if err := o.deps.Entities.AppendMemory(ctx, entity.ID, []string{res.Content}); err != nil {
			slog.WarnContext(ctx, "failed to save memory", "error", err)
			return ""
		}
		entity.Memory = append(entity.Memory, res.Content)
		return fmt.Sprintf("You just saved this to memory: %q. Confirm it naturally.", res.Content)

	case intent.KindClearMemory:
		if err := o.deps.Entities.ClearMemory(ctx, entity.ID); err != nil {
			slog.WarnContext(ctx, "failed to clear memory", "error", err)
			return ""
		}
		entity.Memory = nil
		return "You just forgot everything you remembered about the user. Confirm it naturally."

	case intent.KindSetReminder:
		at := o.deps.Now().Add(time.Duration(res.RemindInMinutes) * time.Minute)
		task := &model.ScheduledTask{
			ID:             o.deps.NewID(),
			ConversationID: conv.ID,
			EntityID:       entity.ID,
			Prompt:         fmt.Sprintf("Remind the user, in character, about: %s", res.Content),
			TriggerAt:      at,
			Repeat:         model.RepeatNone,
		}
		if err := o.deps.Reminders.ScheduleReminder(ctx, task); err != nil {
			slog.WarnContext(ctx, "failed to schedule reminder", "error", err)
			return ""
		}
		return fmt.Sprintf("You just set a reminder about %q for %s (in %d minutes). Confirm it naturally.",
			res.Content, at.Format("15:04"), res.RemindInMinutes)

	case intent.KindSetQuietHours:
		q := model.QuietHours{Enabled: true, StartHour: res.QuietStartHour, EndHour: res.QuietEndHour}
		if err := o.deps.Quiet.SetQuietHours(ctx, q); err != nil {
			slog.WarnContext(ctx, "failed to set quiet hours", "error", err)
			return ""
		}
		return fmt.Sprintf("You just agreed not to message the user between %02d:00 and %02d:00. Confirm it naturally.",
			q.StartHour, q.EndHour)
	}
	return ""
}

func (o *Orchestrator) groupPass(ctx context.Context, p *pass, text string) error {
	members, err := o.deps.Entities.GetMany(ctx, p.conv.MemberIDs)
	if err != nil {
		return fmt.Errorf("get members: %w", err)
	}
	for _, m := range members {
		p.names[m.ID] = m.Name
	}

	t := o.deps.Tuning.Current()
	maxRounds := 1
	if p.conv.AllowAIToAI && t.GroupMaxRounds > 1 {
		maxRounds = t.GroupMaxRounds
	}

	trigger := text
	for round := 1; round <= maxRounds; round++ {
		// Every member is a candidate; the last speaker is held back only
		// once its streak reaches the consecutive cap.
		speakers := o.deps.Selector.Select(responderInput(members, trigger, p.conv))
		var (
			spoke      int
			lastReply  string
			lastAuthor int64
			lastMsgs   []model.Message
			roundMsgs  []model.Message
		)
		for i := range speakers {
			speaker := &speakers[i]
			if !o.deps.Gate.CanReply(p.conv.ID, speaker.ID) {
				metrics.AdmissionDenied.Inc()
				slog.DebugContext(ctx, "speaker held back by admission", "entity_id", speaker.ID)
				continue
			}
			if spoke > 0 {
				if err := sleep(ctx, t.InterSpeakerDelay()); err != nil {
					return err
				}
			}

			sctx := logger.WithLogFields(ctx, logger.LogFields{EntityID: logger.Ptr(speaker.ID)})
			reply, err := o.generate(sctx, p, speaker, backend.Request{
				Persona:     *speaker,
				Prompt:      trigger,
				History:     p.history,
				Names:       p.names,
				Memory:      speaker.Memory,
				Temperature: t.ChatTemperature,
			})
			if err != nil {
				if ferr := o.failVisible(sctx, p, speaker, err); ferr != nil {
					return ferr
				}
				continue
			}

			delivered, err := o.deliver(sctx, p, speaker, reply, model.MessageKindChat)
			if err != nil {
				return err
			}
			o.deps.Gate.RecordReply(p.conv.ID, speaker.ID)
			spoke++
			roundMsgs = append(roundMsgs, delivered...)
			lastReply, lastAuthor, lastMsgs = joinContents(delivered), speaker.ID, delivered
		}

		if spoke == 0 || round == maxRounds {
			break
		}
		if o.draw() >= t.ContinueProbability/float64(round) {
			break
		}

		// The last reply becomes the next prompt; everything before it joins
		// the history.
		p.history = append(p.history, p.prompted...)
		p.history = append(p.history, roundMsgs[:len(roundMsgs)-len(lastMsgs)]...)
		p.prompted = lastMsgs
		trigger = fmt.Sprintf("%s: %s", p.names[lastAuthor], lastReply)
	}
	return nil
}

// originate runs a proactive or reminder delivery under an already held guard.
func (o *Orchestrator) originate(ctx context.Context, req Origination) error {
	ctx = passContext(ctx, req.ConversationID)
	ctx = logger.WithLogFields(ctx, logger.LogFields{EntityID: logger.Ptr(req.EntityID)})
	span := logger.StartSpan(ctx, "brain.originate")
	defer span.End()
	ctx = span.Context()

	kind := req.Kind
	if kind == "" {
		kind = model.MessageKindProactive
	}

	conv, err := o.deps.Conversations.GetByID(ctx, req.ConversationID)
	if err != nil {
		metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("get conversation: %w", err)
	}
	entity, err := o.deps.Entities.GetByID(ctx, req.EntityID)
	if err != nil {
		metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("get entity: %w", err)
	}
	p, err := o.begin(ctx, conv, nil)
	if err != nil {
		metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return err
	}
	defer o.finish(ctx, p)

	text := req.Message
	if text == "" {
		t := o.deps.Tuning.Current()
		text, err = o.generate(ctx, p, entity, backend.Request{
			Persona:     *entity,
			Prompt:      req.Prompt,
			History:     p.history,
			Memory:      entity.Memory,
			Proactive:   true,
			Temperature: t.ProactiveTemperature,
		})
		if err != nil {
			metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
			span.RecordError(err)
			return fmt.Errorf("generate %s: %w", kind, err)
		}
	}

	if _, err := o.deliver(ctx, p, entity, text, kind); err != nil {
		metrics.Passes.WithLabelValues(string(kind), "failed").Inc()
		return err
	}
	metrics.Passes.WithLabelValues(string(kind), "ok").Inc()
	slog.InfoContext(ctx, "originated message delivered", "kind", kind)
	return nil
}

// generate tries the primary backend, then the direct one with history and
// memory re-read from the stores. Each call is bounded by the backend timeout.
func (o *Orchestrator) generate(ctx context.Context, p *pass, persona *model.Entity, req backend.Request) (string, error) {
	t := o.deps.Tuning.Current()
	req.Delimiter = t.SegmentDelimiter

	reply, primaryErr := o.call(ctx, o.deps.Primary, req, t)
	if primaryErr == nil {
		return reply, nil
	}
	slog.WarnContext(ctx, "primary backend failed, falling back to direct", "error", primaryErr)

	if o.deps.Direct == nil {
		return "", primaryErr
	}
	if history, err := o.rebuild(ctx, p); err == nil {
		req.History = history
	} else {
		slog.WarnContext(ctx, "failed to rebuild history for fallback", "error", err)
	}
	if fresh, err := o.deps.Entities.GetByID(ctx, persona.ID); err == nil {
		req.Memory = fresh.Memory
	} else {
		slog.WarnContext(ctx, "failed to re-read memory for fallback", "error", err)
	}

	reply, directErr := o.call(ctx, o.deps.Direct, req, t)
	if directErr == nil {
		return reply, nil
	}
	return "", errors.Join(primaryErr, directErr)
}

func (o *Orchestrator) call(ctx context.Context, g backend.Generator, req backend.Request, t tuning.Tuning) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.BackendTimeout())
	defer cancel()
	return g.Generate(ctx, req)
}

// failVisible records a backend failure as an error message the user can see.
func (o *Orchestrator) failVisible(ctx context.Context, p *pass, entity *model.Entity, cause error) error {
	slog.ErrorContext(ctx, "all backends failed", "error", cause)
	msg := model.Message{
		ID:             o.deps.NewID(),
		ConversationID: p.conv.ID,
		SenderKind:     model.SenderSystem,
		EntityID:       entity.ID,
		Content:        fmt.Sprintf("%s couldn't reply right now. Please try again later.", entity.Name),
		Kind:           model.MessageKindError,
	}
	if err := o.deps.Messages.Append(ctx, &msg); err != nil {
		return fmt.Errorf("append error message: %w", err)
	}
	o.deps.Notifier.Delivered(ctx, msg)
	return nil
}

// deliver splits text into segments and appends them one by one with the
// planned delays in between.
func (o *Orchestrator) deliver(ctx context.Context, p *pass, entity *model.Entity, text string, kind model.MessageKind) ([]model.Message, error) {
	segments := o.deps.Pacer.Plan(text)
	delivered := make([]model.Message, 0, len(segments))
	for _, seg := range segments {
		if err := sleep(ctx, seg.Delay); err != nil {
			return delivered, err
		}
		msg := model.Message{
			ID:             o.deps.NewID(),
			ConversationID: p.conv.ID,
			SenderKind:     model.SenderEntity,
			EntityID:       entity.ID,
			Content:        seg.Text,
			Kind:           kind,
		}
		if err := o.deps.Messages.Append(ctx, &msg); err != nil {
			return delivered, fmt.Errorf("append segment: %w", err)
		}
		metrics.SegmentsDelivered.Inc()
		o.deps.Notifier.Delivered(ctx, msg)
		delivered = append(delivered, msg)
	}
	if len(delivered) == 0 {
		return nil, nil
	}

	p.conv.RecordSpeaker(entity.ID)
	now := o.deps.Now()
	p.conv.LastMessagePreview = preview(delivered[len(delivered)-1].Content)
	p.conv.LastMessageAt = &now
	p.speakers = appendUnique(p.speakers, entity.ID)
	return delivered, nil
}

// finish persists conversation activity and consults the summarization
// trigger for every count the pass crossed.
func (o *Orchestrator) finish(ctx context.Context, p *pass) {
	if err := o.deps.Conversations.RecordActivity(ctx, p.conv); err != nil {
		slog.WarnContext(ctx, "failed to record conversation activity", "error", err)
	}
	if len(p.speakers) == 0 || o.deps.Summarizer == nil {
		return
	}

	count, err := o.deps.Messages.Count(ctx, p.conv.ID)
	if err != nil {
		slog.WarnContext(ctx, "failed to count messages for summarization", "error", err)
		return
	}
	interval := o.deps.Tuning.Current().SummaryInterval
	for n := p.countStart + 1; n <= count; n++ {
		if !memory.ShouldSummarize(n, interval) {
			continue
		}
		for _, entityID := range p.speakers {
			o.deps.Summarizer.Trigger(ctx, p.conv.ID, entityID)
		}
	}
}

func responderInput(members []model.Entity, message string, conv *model.Conversation) responder.Input {
	return responder.Input{
		Members:       members,
		Message:       message,
		LastSpeakerID: conv.LastSpeakerID,
		Consecutive:   conv.Counters(),
	}
}

func joinContents(msgs []model.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, " ")
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "…"
}
