package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"basegraph.app/chorus/internal/model"
	lru "github.com/hashicorp/golang-lru"
)

// CachedEntities is a read-through LRU over an EntityStore. Writes made
// through it invalidate the entry; writes made elsewhere (the API server)
// are picked up after ttl or an explicit Invalidate.
type CachedEntities struct {
	EntityStore
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

type cachedEntity struct {
	entity    model.Entity
	expiresAt time.Time
}

func NewCachedEntities(inner EntityStore, size int, ttl time.Duration) (*CachedEntities, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedEntities{EntityStore: inner, cache: cache, ttl: ttl, now: time.Now}, nil
}

func (c *CachedEntities) GetByID(ctx context.Context, id int64) (*model.Entity, error) {
	if v, ok := c.cache.Get(id); ok {
		entry := v.(cachedEntity)
		if c.now().Before(entry.expiresAt) {
			e := cloneEntity(entry.entity)
			return &e, nil
		}
		c.cache.Remove(id)
	}

	entity, err := c.EntityStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, cachedEntity{entity: cloneEntity(*entity), expiresAt: c.now().Add(c.ttl)})
	return entity, nil
}

func (c *CachedEntities) GetMany(ctx context.Context, ids []int64) ([]model.Entity, error) {
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (c *CachedEntities) UpdateProactive(ctx context.Context, id int64, cfg model.ProactiveConfig) error {
	defer c.Invalidate(id)
	return c.EntityStore.UpdateProactive(ctx, id, cfg)
}

func (c *CachedEntities) SetNextFire(ctx context.Context, id int64, at time.Time) error {
	defer c.Invalidate(id)
	return c.EntityStore.SetNextFire(ctx, id, at)
}

func (c *CachedEntities) ClearNextFire(ctx context.Context, id int64) error {
	defer c.Invalidate(id)
	return c.EntityStore.ClearNextFire(ctx, id)
}

func (c *CachedEntities) AppendMemory(ctx context.Context, entityID int64, items []string) error {
	defer c.Invalidate(entityID)
	return c.EntityStore.AppendMemory(ctx, entityID, items)
}

func (c *CachedEntities) ClearMemory(ctx context.Context, entityID int64) error {
	defer c.Invalidate(entityID)
	return c.EntityStore.ClearMemory(ctx, entityID)
}

func (c *CachedEntities) Invalidate(id int64) {
	c.cache.Remove(id)
}

func cloneEntity(e model.Entity) model.Entity {
	e.AffinityKeywords = slices.Clone(e.AffinityKeywords)
	e.Memory = slices.Clone(e.Memory)
	if e.Proactive.NextFireAt != nil {
		t := *e.Proactive.NextFireAt
		e.Proactive.NextFireAt = &t
	}
	return e
}
