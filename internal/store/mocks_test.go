package store_test

import (
	"context"
	"time"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/store"
)

type mockEntityStore struct {
	store.EntityStore

	getByIDFn      func(ctx context.Context, id int64) (*model.Entity, error)
	appendMemoryFn func(ctx context.Context, entityID int64, items []string) error
	setNextFireFn  func(ctx context.Context, id int64, at time.Time) error
}

func (m *mockEntityStore) GetByID(ctx context.Context, id int64) (*model.Entity, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockEntityStore) AppendMemory(ctx context.Context, entityID int64, items []string) error {
	if m.appendMemoryFn != nil {
		return m.appendMemoryFn(ctx, entityID, items)
	}
	return nil
}

func (m *mockEntityStore) SetNextFire(ctx context.Context, id int64, at time.Time) error {
	if m.setNextFireFn != nil {
		return m.setNextFireFn(ctx, id, at)
	}
	return nil
}
