package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/metrics"
)

type ConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	DLQStream    string
	BatchSize    int64         // entries per read
	Block        time.Duration // read block time
	MaxAttempts  int
	RequeueDelay time.Duration // pause before a failed entry goes back on the stream
	// DLQMaxLen caps the dead letter stream (approximate trim). 0 keeps everything.
	DLQMaxLen int64
}

// Message is a decoded stream entry.
type Message struct {
	ID             string
	TaskType       TaskType
	ConversationID *int64
	EntityID       *int64
	TaskID         *int64
	Content        string
	Attempt        int
	TraceID        string
	Raw            redis.XMessage
}

func (m Message) task() Task {
	return Task{
		TaskType:       m.TaskType,
		ConversationID: m.ConversationID,
		EntityID:       m.EntityID,
		TaskID:         m.TaskID,
		Content:        m.Content,
		TraceID:        m.TraceID,
		Attempt:        m.Attempt,
	}
}

type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

// NewRedisConsumer creates the consumer group if it does not exist yet.
func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}

	// "0" so fragments enqueued while no worker was up are still delivered.
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return c, nil
}

// Read returns new entries only; entries pending on a dead consumer are the
// reclaimer's. Malformed entries are acked and dropped.
func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "chorus.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msg, err := ParseMessage(entry)
			if err != nil {
				slog.ErrorContext(ctx, "dropping malformed stream entry",
					"error", err,
					"raw_message_id", entry.ID)
				metrics.QueueMessages.WithLabelValues("unknown", "malformed").Inc()
				_ = c.Ack(ctx, Message{ID: entry.ID, Raw: entry})
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", msg.ID, err)
	}
	return nil
}

// Requeue appends a copy with the next attempt number and acks the original
// in one MULTI, so a crash between the two cannot lose or duplicate it.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if c.cfg.RequeueDelay > 0 {
		t := time.NewTimer(c.cfg.RequeueDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	next := msg.task()
	next.Attempt = max(msg.Attempt, 1) + 1
	values := encode(next)
	if errMsg != "" {
		values[fieldLastError] = errMsg
	}

	if err := c.moveTo(ctx, msg, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values}); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	metrics.QueueMessages.WithLabelValues(string(msg.TaskType), "requeued").Inc()
	slog.InfoContext(ctx, "message requeued for retry", "next_attempt", next.Attempt, "reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := encode(msg.task())
	values[fieldError] = errMsg

	args := &redis.XAddArgs{Stream: c.cfg.DLQStream, Values: values}
	if c.cfg.DLQMaxLen > 0 {
		args.MaxLen = c.cfg.DLQMaxLen
		args.Approx = true
	}
	if err := c.moveTo(ctx, msg, args); err != nil {
		return fmt.Errorf("dead-letter to %s: %w", c.cfg.DLQStream, err)
	}

	metrics.QueueMessages.WithLabelValues(string(msg.TaskType), "dead_lettered").Inc()
	slog.ErrorContext(ctx, "message sent to DLQ", "final_error", errMsg, "dlq_stream", c.cfg.DLQStream)
	return nil
}

func (c *RedisConsumer) moveTo(ctx context.Context, msg Message, add *redis.XAddArgs) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, add)
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		return nil
	})
	return err
}

func ParseMessage(entry redis.XMessage) (Message, error) {
	t, err := decode(entry.Values)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:             entry.ID,
		TaskType:       t.TaskType,
		ConversationID: t.ConversationID,
		EntityID:       t.EntityID,
		TaskID:         t.TaskID,
		Content:        t.Content,
		Attempt:        t.Attempt,
		TraceID:        t.TraceID,
		Raw:            entry,
	}, nil
}
