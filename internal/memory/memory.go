// Package memory extracts long-term facts from recent conversation and files
// them under the entity that took part.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/common/llm"
	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/tuning"
)

// ShouldSummarize reports whether count lands on a summarization boundary.
func ShouldSummarize(count, interval int) bool {
	return interval > 0 && count > 0 && count%interval == 0
}

var (
	listMarker = regexp.MustCompile(`^\s*(?:[-*•·]+|\d+[.)、])\s*`)
	spaces     = regexp.MustCompile(`\s+`)
)

// ParseItems turns a list-shaped reply into memory items. Markers are
// stripped, whitespace collapsed, and pieces of three characters or fewer
// dropped.
func ParseItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		items = append(items, line)
	}
	return items
}

type MessageReader interface {
	RecentRounds(ctx context.Context, conversationID int64, rounds int) ([]model.Message, error)
}

type EntityMemory interface {
	GetByID(ctx context.Context, id int64) (*model.Entity, error)
	AppendMemory(ctx context.Context, entityID int64, items []string) error
}

type Summarizer struct {
	messages MessageReader
	entities EntityMemory
	llm      llm.Client
	tuning   tuning.Source
	sup      *background.Supervisor
}

func NewSummarizer(messages MessageReader, entities EntityMemory, client llm.Client, src tuning.Source, sup *background.Supervisor) *Summarizer {
	return &Summarizer{messages: messages, entities: entities, llm: client, tuning: src, sup: sup}
}

// Trigger summarizes in the background. Failures are logged and counted.
func (s *Summarizer) Trigger(ctx context.Context, conversationID, entityID int64) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conversationID),
		EntityID:       logger.Ptr(entityID),
		Component:      "chorus.memory.summarizer",
	})
	s.sup.Go(ctx, "memory.summarize", func(ctx context.Context) error {
		if _, err := s.Summarize(ctx, conversationID, entityID); err != nil {
			metrics.Summaries.WithLabelValues("failed").Inc()
			slog.WarnContext(ctx, "memory summarization failed", "error", err)
		}
		return nil
	})
}

// Summarize extracts facts from the latest rounds and appends them to the
// entity's memory. It returns the appended items.
func (s *Summarizer) Summarize(ctx context.Context, conversationID, entityID int64) ([]string, error) {
	t := s.tuning.Current()

	entity, err := s.entities.GetByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	msgs, err := s.messages.RecentRounds(ctx, conversationID, t.SummaryRounds)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.BackendTimeout())
	defer cancel()

	resp, err := s.llm.Complete(ctx, llm.ChatRequest{
		SystemPrompt: summarySystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildSummaryPrompt(entity, msgs)}},
		Temperature:  llm.Temp(t.SummaryTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	items := novel(ParseItems(resp.Content), entity.Memory)
	if len(items) == 0 {
		metrics.Summaries.WithLabelValues("empty").Inc()
		slog.DebugContext(ctx, "summarization produced no new items")
		return nil, nil
	}
	if err := s.entities.AppendMemory(ctx, entityID, items); err != nil {
		return nil, fmt.Errorf("append memory: %w", err)
	}

	metrics.Summaries.WithLabelValues("appended").Inc()
	slog.InfoContext(ctx, "memory summarized", "items", len(items))
	return items, nil
}

func novel(items, existing []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[strings.ToLower(e)] = true
	}
	var out []string
	for _, item := range items {
		k := strings.ToLower(item)
		if !seen[k] {
			seen[k] = true
			out = append(out, item)
		}
	}
	return out
}

const summarySystemPrompt = `You maintain the long-term memory of a persona about the user they talk to.
Extract only durable facts about the user: preferences, habits, relationships, plans and important events.
Output one fact per line as a list. Output nothing else. If there is nothing worth remembering, output nothing.`

func buildSummaryPrompt(entity *model.Entity, msgs []model.Message) string {
	var b strings.Builder
	b.WriteString("Already remembered:\n")
	if len(entity.Memory) == 0 {
		b.WriteString("(nothing yet)\n")
	}
	for _, m := range entity.Memory {
		b.WriteString("- " + m + "\n")
	}

	b.WriteString("\nRecent conversation:\n")
	for _, m := range msgs {
		speaker := "User"
		if !m.FromUser() {
			speaker = entity.Name
			if m.EntityID != entity.ID {
				speaker = "Other"
			}
		}
		b.WriteString(speaker + ": " + m.Content + "\n")
	}
	return b.String()
}
