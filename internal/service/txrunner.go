package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/store"
)

// StoreProvider hands out stores bound to one transaction.
type StoreProvider interface {
	Conversations() store.ConversationStore
	Entities() store.EntityStore
	Tasks() store.TaskStore
}

// TxRunner runs check-then-create operations, such as the idempotent 1:1
// conversation create, atomically.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

const txAttempts = 3

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner runs transactions at serializable isolation, retrying
// serialization failures a few times.
func NewTxRunner(database *db.DB) TxRunner {
	return &dbTxRunner{db: database}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = r.db.WithTxOptions(ctx, opts, func(q db.DBTX) error {
			return fn(store.NewStores(q))
		})
		if !db.IsSerializationFailure(err) {
			return err
		}
		slog.DebugContext(ctx, "serialization failure, retrying transaction", "attempt", attempt)
		select {
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
