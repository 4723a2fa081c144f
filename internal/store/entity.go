package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"basegraph.app/chorus/core/db"
	"basegraph.app/chorus/internal/model"
	"github.com/jackc/pgx/v5"
)

const entityColumns = `id, name, description, system_prompt, affinity_keywords,
	proactive_enabled, proactive_prompt, proactive_min_minutes, proactive_max_minutes, proactive_next_fire_at,
	created_at, updated_at`

type entityStore struct {
	db db.DBTX
}

func newEntityStore(q db.DBTX) EntityStore {
	return &entityStore{db: q}
}

func (s *entityStore) Create(ctx context.Context, entity *model.Entity) error {
	keywords := entity.AffinityKeywords
	if keywords == nil {
		keywords = []string{}
	}
	minM, maxM := entity.Proactive.MinMinutes, entity.Proactive.MaxMinutes
	if minM <= 0 {
		minM = model.DefaultProactiveMinMinutes
	}
	if maxM <= 0 {
		maxM = model.DefaultProactiveMaxMinutes
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO entities (id, name, description, system_prompt, affinity_keywords,
			proactive_enabled, proactive_prompt, proactive_min_minutes, proactive_max_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+entityColumns,
		entity.ID, entity.Name, entity.Description, entity.SystemPrompt, keywords,
		entity.Proactive.Enabled, entity.Proactive.TriggerPrompt, minM, maxM)
	created, err := scanEntity(row)
	if err != nil {
		return err
	}
	*entity = created
	return nil
}

func (s *entityStore) GetByID(ctx context.Context, id int64) (*model.Entity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	memories, err := s.memories(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	entity.Memory = memories[id]
	return &entity, nil
}

// GetMany returns the entities in ids order, skipping unknown ids.
func (s *entityStore) GetMany(ctx context.Context, ids []int64) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Entity, error) {
		return scanEntity(row)
	})
	if err != nil {
		return nil, err
	}

	memories, err := s.memories(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Entity, len(found))
	for _, e := range found {
		e.Memory = memories[e.ID]
		byID[e.ID] = e
	}

	out := make([]model.Entity, 0, len(found))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *entityStore) List(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Entity, error) {
		return scanEntity(row)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	memories, err := s.memories(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		entities[i].Memory = memories[entities[i].ID]
	}
	return entities, nil
}

func (s *entityStore) UpdateProactive(ctx context.Context, id int64, cfg model.ProactiveConfig) error {
	minD, maxD := cfg.Bounds()
	return s.exec(ctx, `
		UPDATE entities
		SET proactive_enabled = $2, proactive_prompt = $3, proactive_min_minutes = $4, proactive_max_minutes = $5,
			proactive_next_fire_at = NULL, updated_at = now()
		WHERE id = $1`,
		id, cfg.Enabled, cfg.TriggerPrompt, int(minD/time.Minute), int(maxD/time.Minute))
}

func (s *entityStore) SetNextFire(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, `UPDATE entities SET proactive_next_fire_at = $2 WHERE id = $1`, id, at)
}

func (s *entityStore) ClearNextFire(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE entities SET proactive_next_fire_at = NULL WHERE id = $1`, id)
}

func (s *entityStore) AppendMemory(ctx context.Context, entityID int64, items []string) error {
	if len(items) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO entity_memories (entity_id, content)
		SELECT $1, item FROM unnest($2::TEXT[]) WITH ORDINALITY AS t(item, ord)
		ORDER BY ord`, entityID, items)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

func (s *entityStore) ClearMemory(ctx context.Context, entityID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM entity_memories WHERE entity_id = $1`, entityID)
	return err
}

func (s *entityStore) memories(ctx context.Context, ids []int64) (map[int64][]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_id, content FROM entity_memories
		WHERE entity_id = ANY($1)
		ORDER BY entity_id, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string, len(ids))
	for rows.Next() {
		var (
			id      int64
			content string
		)
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = append(out[id], content)
	}
	return out, rows.Err()
}

func (s *entityStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntity(row pgx.Row) (model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.SystemPrompt, &e.AffinityKeywords,
		&e.Proactive.Enabled, &e.Proactive.TriggerPrompt, &e.Proactive.MinMinutes, &e.Proactive.MaxMinutes,
		&e.Proactive.NextFireAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
