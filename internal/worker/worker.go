package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/brain"
	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/queue"
)

type Config struct {
	MaxAttempts int
	// ErrorBackoff is the pause after a failed stream read.
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer   Consumer
	dispatcher Dispatcher
	cfg        Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, dispatcher Dispatcher, cfg Config) *Worker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:   consumer,
		dispatcher: dispatcher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Run reads and dispatches until ctx is done or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "chorus.worker.consumer"})

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "worker stopping")
			return nil
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-time.After(w.cfg.ErrorBackoff):
				case <-ctx.Done():
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.Handle(ctx, msg)
	}
	return nil
}

// Handle dispatches msg and settles it on the stream: ack on success, requeue
// for retryable failures, DLQ for fatal ones or once attempts run out. It
// satisfies queue.MessageProcessor so the reclaimer can reuse it.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	taskType := string(msg.TaskType)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StreamMessageID: logger.Ptr(msg.ID),
		TaskType:        &taskType,
		ConversationID:  msg.ConversationID,
		EntityID:        msg.EntityID,
		TaskID:          msg.TaskID,
	})
	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.message")
	defer span.End()
	ctx = span.Context()

	err := w.processMessageSafe(ctx, msg)
	if err == nil {
		metrics.QueueMessages.WithLabelValues(taskType, "processed").Inc()
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// The reclaimer redelivers it; every task type is safe to repeat.
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
		return nil
	}

	span.RecordError(err)
	slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Attempt)
	w.handleFailedMessage(ctx, msg, err)
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = brain.NewFatalError(fmt.Errorf("panic: %v", r))
		}
	}()

	slog.DebugContext(ctx, "processing message", "attempt", msg.Attempt)
	return w.dispatcher.Dispatch(ctx, msg)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	var de *brain.DispatchError
	retryable := !errors.As(err, &de) || de.Retryable

	if !retryable || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "sending message to DLQ",
			"retryable", retryable,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
