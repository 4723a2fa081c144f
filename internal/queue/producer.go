package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

type ProducerOption func(*redisProducer)

// WithMaxLen trims the stream to about n entries on every append. Trimming
// ignores consumer groups, so n must stay far above any realistic backlog.
func WithMaxLen(n int64) ProducerOption {
	return func(p *redisProducer) { p.maxLen = n }
}

type redisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger, opts ...ProducerOption) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &redisProducer{client: client, stream: stream, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.TaskType, err)
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: encode(task)}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.TaskType, err)
	}

	p.logger.DebugContext(ctx, "enqueued task", "task_type", task.TaskType, "stream_message_id", id)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
