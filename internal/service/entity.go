package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

type CreateEntityParams struct {
	Name             string
	Description      string
	SystemPrompt     string
	AffinityKeywords []string
	Proactive        model.ProactiveConfig
}

type EntityService interface {
	Create(ctx context.Context, params CreateEntityParams) (*model.Entity, error)
	Get(ctx context.Context, id int64) (*model.Entity, error)
	List(ctx context.Context) ([]model.Entity, error)
	// UpdateProactive replaces the proactive config; the worker redraws the countdown.
	UpdateProactive(ctx context.Context, id int64, cfg model.ProactiveConfig) (*model.Entity, error)
	ClearMemory(ctx context.Context, id int64) error
	// TriggerProactive asks the worker to send a proactive message now.
	TriggerProactive(ctx context.Context, id int64) (bool, error)
}

type entityService struct {
	entities store.EntityStore
	producer queue.Producer
}

func NewEntityService(entities store.EntityStore, producer queue.Producer) EntityService {
	return &entityService{entities: entities, producer: producer}
}

func (s *entityService) Create(ctx context.Context, params CreateEntityParams) (*model.Entity, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if err := validateProactive(params.Proactive); err != nil {
		return nil, err
	}

	cfg := params.Proactive
	cfg.NextFireAt = nil
	entity := &model.Entity{
		ID:               id.New(),
		Name:             name,
		Description:      strings.TrimSpace(params.Description),
		SystemPrompt:     params.SystemPrompt,
		AffinityKeywords: params.AffinityKeywords,
		Proactive:        cfg,
	}
	if err := s.entities.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("creating entity: %w", err)
	}
	slog.InfoContext(ctx, "entity created", "entity_id", entity.ID)

	if entity.Proactive.Enabled {
		s.changed(ctx, entity.ID)
	}
	return entity, nil
}

func (s *entityService) Get(ctx context.Context, id int64) (*model.Entity, error) {
	return s.entities.GetByID(ctx, id)
}

func (s *entityService) List(ctx context.Context) ([]model.Entity, error) {
	return s.entities.List(ctx)
}

func (s *entityService) UpdateProactive(ctx context.Context, id int64, cfg model.ProactiveConfig) (*model.Entity, error) {
	if err := validateProactive(cfg); err != nil {
		return nil, err
	}
	if err := s.entities.UpdateProactive(ctx, id, cfg); err != nil {
		return nil, err
	}
	s.changed(ctx, id)
	return s.entities.GetByID(ctx, id)
}

func (s *entityService) ClearMemory(ctx context.Context, id int64) error {
	if _, err := s.entities.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.entities.ClearMemory(ctx, id); err != nil {
		return fmt.Errorf("clearing memory: %w", err)
	}
	// The worker caches entities; the change notice drops its copy.
	s.changed(ctx, id)
	return nil
}

func (s *entityService) TriggerProactive(ctx context.Context, id int64) (bool, error) {
	if _, err := s.entities.GetByID(ctx, id); err != nil {
		return false, err
	}
	return enqueue(ctx, s.producer, queue.Task{
		TaskType: queue.TaskTypeProactiveNow,
		EntityID: &id,
	}), nil
}

func (s *entityService) changed(ctx context.Context, id int64) {
	enqueue(ctx, s.producer, queue.Task{
		TaskType: queue.TaskTypeEntityChanged,
		EntityID: &id,
	})
}

func validateProactive(cfg model.ProactiveConfig) error {
	if cfg.MinMinutes < 0 || cfg.MaxMinutes < 0 {
		return invalid("proactive bounds must not be negative")
	}
	if cfg.MinMinutes > 0 && cfg.MaxMinutes > 0 && cfg.MaxMinutes < cfg.MinMinutes {
		return invalid("max_minutes must be at least min_minutes")
	}
	return nil
}
