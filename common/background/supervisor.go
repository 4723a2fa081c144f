// Package background runs best-effort work off the caller's goroutine. Every
// task is tracked so shutdown can wait for it, and failures are logged and
// counted instead of disappearing.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"basegraph.app/chorus/common/logger"
	"basegraph.app/chorus/internal/metrics"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New returns a Supervisor whose tasks inherit values from parent but are
// cancelled only by Stop.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Go runs fn in a new goroutine. The context handed to fn carries the log
// fields of ctx. Once Stop was called no task starts and Go returns false.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	taskCtx := logger.WithLogFields(s.ctx, logger.GetLogFields(ctx))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		metrics.BackgroundFailures.WithLabelValues(name, "rejected").Inc()
		slog.DebugContext(taskCtx, "supervisor stopped, task not started", "task", name)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.BackgroundFailures.WithLabelValues(name, "panic").Inc()
				slog.ErrorContext(taskCtx, "background task panicked",
					"task", name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()))
			}
		}()

		if err := fn(taskCtx); err != nil {
			metrics.BackgroundFailures.WithLabelValues(name, "error").Inc()
			slog.WarnContext(taskCtx, "background task failed", "task", name, "error", err)
		}
	}()
	return true
}

// Stop refuses new tasks, cancels running ones and waits for them until ctx
// is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx is done. It does not
// refuse new tasks; shutdown goes through Stop.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background tasks: %w", ctx.Err())
	}
}
