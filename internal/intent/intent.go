// Package intent decides whether a 1:1 message asks for a side effect before
// the persona answers it.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/chorus/common/llm"
)

type Kind string

const (
	KindNormalChat    Kind = "normal_chat"
	KindSetMemory     Kind = "set_memory"
	KindClearMemory   Kind = "clear_memory"
	KindSetReminder   Kind = "set_reminder"
	KindSetQuietHours Kind = "set_quiet_hours"
)

type Result struct {
	Kind Kind `json:"kind" jsonschema:"enum=normal_chat,enum=set_memory,enum=clear_memory,enum=set_reminder,enum=set_quiet_hours" jsonschema_description:"What the user is asking for"`
	// Content is the fact to remember or the reminder text.
	Content         string `json:"content" jsonschema_description:"Fact to remember, or the reminder message. Empty otherwise"`
	RemindInMinutes int    `json:"remind_in_minutes" jsonschema_description:"Minutes from now for set_reminder. 0 otherwise"`
	QuietStartHour  int    `json:"quiet_start_hour" jsonschema_description:"Start hour 0-23 for set_quiet_hours. 0 otherwise"`
	QuietEndHour    int    `json:"quiet_end_hour" jsonschema_description:"End hour 0-23 for set_quiet_hours. 0 otherwise"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) Result
}

var resultSchema = llm.GenerateSchema[Result]()

type LLMClassifier struct {
	llm     llm.Client
	timeout time.Duration
}

func NewLLMClassifier(client llm.Client, timeout time.Duration) *LLMClassifier {
	return &LLMClassifier{llm: client, timeout: timeout}
}

// Classify never fails: anything it cannot classify confidently is chat.
func (c *LLMClassifier) Classify(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Kind: KindNormalChat}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res Result
	_, err := c.llm.Structured(ctx, llm.StructuredRequest{
		SystemPrompt: classifierSystemPrompt,
		UserPrompt:   text,
		SchemaName:   "intent_result",
		Schema:       resultSchema,
		Temperature:  llm.Temp(0),
	}, &res)
	if err != nil {
		slog.WarnContext(ctx, "intent classification failed, treating as chat", "error", err)
		return Result{Kind: KindNormalChat}
	}
	return Normalize(res)
}

// Normalize downgrades results whose parameters are unusable.
func Normalize(r Result) Result {
	r.Content = strings.TrimSpace(r.Content)
	switch r.Kind {
	case KindClearMemory, KindNormalChat:
		return r
	case KindSetMemory:
		if r.Content != "" {
			return r
		}
	case KindSetReminder:
		if r.RemindInMinutes > 0 {
			return r
		}
	case KindSetQuietHours:
		if r.QuietStartHour >= 0 && r.QuietStartHour <= 23 && r.QuietEndHour >= 0 && r.QuietEndHour <= 23 {
			return r
		}
	}
	return Result{Kind: KindNormalChat}
}

const classifierSystemPrompt = `Classify the user's chat message.
- set_memory: the user explicitly asks you to remember something about them. Put the fact in content.
- clear_memory: the user asks you to forget everything you remember about them.
- set_reminder: the user asks to be reminded of something after some time. Put what to remind in content and the delay in remind_in_minutes.
- set_quiet_hours: the user asks not to be messaged during certain hours. Fill quiet_start_hour and quiet_end_hour (0-23).
- normal_chat: anything else. This is by far the most common case; when unsure, choose normal_chat.`
