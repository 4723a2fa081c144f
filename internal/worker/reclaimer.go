package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MinIdle is how long a delivery may sit unacknowledged before another
	// consumer takes it over.
	MinIdle  time.Duration
	Interval time.Duration
	// BatchSize bounds each XAUTOCLAIM call; a sweep keeps paging until the
	// cursor wraps.
	BatchSize int64
}

// RedisReclaimer takes over stream entries left pending by a worker that
// died between read and ack, and runs them through the same handler as
// fresh deliveries.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
	}
}

// Run sweeps every Interval until ctx is done.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "chorus.worker.reclaimer",
	})

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "reclaimer stopped")
			return
		case <-ticker.C:
			n, err := r.sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err, "reclaimed", n)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "reclaim sweep done", "reclaimed", n)
			}
		}
	}
}

func (r *RedisReclaimer) sweep(ctx context.Context) (int, error) {
	total := 0
	cursor := "0-0"
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.MinIdle,
			Start:    cursor,
			Count:    r.cfg.BatchSize,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("xautoclaim: %w", err)
		}

		for _, m := range msgs {
			r.redeliver(ctx, m)
			total++
		}

		if next == "0-0" || next == "" || ctx.Err() != nil {
			return total, nil
		}
		cursor = next
	}
}

func (r *RedisReclaimer) redeliver(ctx context.Context, m redis.XMessage) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StreamMessageID: logger.Ptr(m.ID),
	})

	parsed, err := queue.ParseMessage(m)
	if err != nil {
		// Nothing would ever parse it; drop it rather than claim it forever.
		slog.WarnContext(ctx, "dropping unparseable pending message", "error", err)
		metrics.QueueMessages.WithLabelValues("unknown", "dropped").Inc()
		_ = r.consumer.Ack(ctx, queue.Message{ID: m.ID, Raw: m})
		return
	}

	metrics.QueueMessages.WithLabelValues(string(parsed.TaskType), "reclaimed").Inc()
	slog.InfoContext(ctx, "redelivering stale message", "task_type", parsed.TaskType)

	// The processor acks, requeues or dead-letters on its own.
	if err := r.processor(ctx, parsed); err != nil {
		slog.DebugContext(ctx, "reclaimed message failed", "error", err)
	}
}
