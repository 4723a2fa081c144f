// Package lock provides Redis-backed mutexes for work that must not run in
// two processes at once, such as countdown recovery during a rolling deploy.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type Locker struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
	tries  int
}

// New returns a Locker for name. The lock expires after expiry even if the
// holder dies; Lock retries up to tries times before giving up.
func New(client *redis.Client, name string, expiry time.Duration, tries int) *Locker {
	if tries <= 0 {
		tries = 32
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		name:   name,
		expiry: expiry,
		tries:  tries,
	}
}

func (l *Locker) Lock(ctx context.Context) (func(), error) {
	mutex := l.rs.NewMutex(l.name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", l.name, err)
	}

	slog.DebugContext(ctx, "lock acquired", "lock", l.name)
	return func() {
		// Unlock must succeed even when the caller's context is already done.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			slog.WarnContext(ctx, "failed to release lock", "lock", l.name, "error", err)
		}
	}, nil
}
