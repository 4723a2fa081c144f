// Package backend turns persona, history and memory into a generation call.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/chorus/common/llm"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/model"
)

var ErrEmptyReply = errors.New("backend: empty reply")

type Request struct {
	Persona model.Entity
	// Prompt is the triggering text: the user's batch, the previous speaker's
	// reply in a group round, or a proactive/reminder prompt.
	Prompt string
	// History is chronological and excludes Prompt.
	History []model.Message
	// Names resolves other entities appearing in group history.
	Names  map[int64]string
	Memory []string
	// Note is extra context for this turn, e.g. a side effect just applied.
	Note        string
	Proactive   bool
	Delimiter   string
	Temperature float64
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// LLMGenerator generates through an llm.Client. Path labels metrics and logs,
// e.g. "primary" or "direct".
type LLMGenerator struct {
	client llm.Client
	path   string
	now    func() time.Time
}

func NewLLMGenerator(client llm.Client, path string) *LLMGenerator {
	return &LLMGenerator{client: client, path: path, now: time.Now}
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := g.client.Complete(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt(req),
		Messages:     g.messages(req),
		Temperature:  llm.Temp(req.Temperature),
	})
	metrics.BackendDuration.WithLabelValues(g.path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendCalls.WithLabelValues(g.path, "error").Inc()
		return "", fmt.Errorf("%s generate: %w", g.path, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		metrics.BackendCalls.WithLabelValues(g.path, "empty").Inc()
		return "", ErrEmptyReply
	}

	metrics.BackendCalls.WithLabelValues(g.path, "ok").Inc()
	slog.DebugContext(ctx, "reply generated",
		"path", g.path,
		"model", g.client.Model(),
		"duration_ms", time.Since(start).Milliseconds(),
		"completion_tokens", resp.CompletionTokens)
	return text, nil
}

func (g *LLMGenerator) messages(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		switch {
		case m.FromUser():
			msgs = append(msgs, llm.Message{Role: "user", Content: m.Content})
		case m.SenderKind == model.SenderEntity && m.EntityID == req.Persona.ID:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Content})
		case m.SenderKind == model.SenderEntity:
			name := req.Names[m.EntityID]
			if name == "" {
				name = fmt.Sprintf("member_%d", m.EntityID)
			}
			msgs = append(msgs, llm.Message{Role: "user", Name: llm.SanitizeName(name), Content: m.Content})
		}
	}

	now := g.now()
	msgs = append(msgs, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("%s\n\n(current time: %s %s)", req.Prompt, now.Format("2006-01-02 15:04:05"), now.Weekday()),
	})
	return msgs
}

func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are %s.", req.Persona.Name))
	if req.Persona.Description != "" {
		b.WriteString(" " + req.Persona.Description)
	}
	if req.Persona.SystemPrompt != "" {
		b.WriteString("\n\n" + req.Persona.SystemPrompt)
	}

	if len(req.Memory) > 0 {
		b.WriteString("\n\nWhat you know about the user:\n")
		for _, m := range req.Memory {
			b.WriteString("- " + m + "\n")
		}
	}
	if req.Note != "" {
		b.WriteString("\n\nContext for this turn: " + req.Note)
	}
	if req.Proactive {
		b.WriteString("\n\nYou are reaching out to the user on your own. Keep it natural and in character; never mention being prompted or scheduled.")
	}
	if req.Delimiter != "" {
		b.WriteString(fmt.Sprintf("\n\nYou are texting. Split your reply into short messages separated by %q when it reads naturally as several messages.", req.Delimiter))
	}
	return b.String()
}
