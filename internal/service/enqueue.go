package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"basegraph.app/chorus/internal/queue"
)

// enqueue hands a task to the worker. The change is already committed, so a
// failed enqueue is logged and reported rather than returned.
func enqueue(ctx context.Context, producer queue.Producer, task queue.Task) bool {
	if task.TraceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			task.TraceID = spanCtx.TraceID().String()
		}
	}
	if err := producer.Enqueue(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue task",
			"error", err,
			"task_type", task.TaskType)
		return false
	}
	return true
}
