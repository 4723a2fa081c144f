// Package notify tells clients that a message was delivered. Notification
// is best effort: a failing sink never affects delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"basegraph.app/chorus/common/background"
	"basegraph.app/chorus/internal/model"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

type Event struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

const EventMessageDelivered = "message.delivered"

type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Notifier is what the engine calls after appending a message.
type Notifier interface {
	Delivered(ctx context.Context, msg model.Message)
}

type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", s.channel, err)
	}
	return nil
}

type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetHeader("User-Agent", "chorus-notify/1.0").
		SetTimeout(timeout)
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}

// Fanout sends every event to all sinks in the background.
type Fanout struct {
	sinks []Sink
	sup   *background.Supervisor
}

func NewFanout(sup *background.Supervisor, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, sup: sup}
}

func (f *Fanout) Delivered(ctx context.Context, msg model.Message) {
	event := Event{Type: EventMessageDelivered, Message: msg}
	for _, sink := range f.sinks {
		f.sup.Go(ctx, "notify.send", func(ctx context.Context) error {
			if err := sink.Send(ctx, event); err != nil {
				return fmt.Errorf("notify message %d: %w", msg.ID, err)
			}
			return nil
		})
	}
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Delivered(context.Context, model.Message) {}
