package dto

import (
	"time"

	"basegraph.app/chorus/internal/model"
)

type ProactiveRequest struct {
	Enabled       bool   `json:"enabled"`
	TriggerPrompt string `json:"trigger_prompt" binding:"max=2000"`
	MinMinutes    int    `json:"min_minutes" binding:"min=0"`
	MaxMinutes    int    `json:"max_minutes" binding:"min=0"`
}

func (r ProactiveRequest) ToModel() model.ProactiveConfig {
	return model.ProactiveConfig{
		Enabled:       r.Enabled,
		TriggerPrompt: r.TriggerPrompt,
		MinMinutes:    r.MinMinutes,
		MaxMinutes:    r.MaxMinutes,
	}
}

type CreateEntityRequest struct {
	Name             string           `json:"name" binding:"required,min=1,max=255"`
	Description      string           `json:"description" binding:"max=2000"`
	SystemPrompt     string           `json:"system_prompt" binding:"max=20000"`
	AffinityKeywords []string         `json:"affinity_keywords"`
	Proactive        ProactiveRequest `json:"proactive"`
}

type ProactiveResponse struct {
	Enabled       bool       `json:"enabled"`
	TriggerPrompt string     `json:"trigger_prompt"`
	MinMinutes    int        `json:"min_minutes"`
	MaxMinutes    int        `json:"max_minutes"`
	NextFireAt    *time.Time `json:"next_fire_at,omitempty"`
}

type EntityResponse struct {
	ID               int64             `json:"id,string"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	SystemPrompt     string            `json:"system_prompt"`
	AffinityKeywords []string          `json:"affinity_keywords"`
	Proactive        ProactiveResponse `json:"proactive"`
	MemoryItems      int               `json:"memory_items"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func ToEntityResponse(e *model.Entity) *EntityResponse {
	keywords := e.AffinityKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return &EntityResponse{
		ID:               e.ID,
		Name:             e.Name,
		Description:      e.Description,
		SystemPrompt:     e.SystemPrompt,
		AffinityKeywords: keywords,
		Proactive: ProactiveResponse{
			Enabled:       e.Proactive.Enabled,
			TriggerPrompt: e.Proactive.TriggerPrompt,
			MinMinutes:    e.Proactive.MinMinutes,
			MaxMinutes:    e.Proactive.MaxMinutes,
			NextFireAt:    e.Proactive.NextFireAt,
		},
		MemoryItems: len(e.Memory),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type ListEntitiesResponse struct {
	Entities []*EntityResponse `json:"entities"`
}

func ToListEntitiesResponse(entities []model.Entity) ListEntitiesResponse {
	out := ListEntitiesResponse{Entities: make([]*EntityResponse, len(entities))}
	for i := range entities {
		out.Entities[i] = ToEntityResponse(&entities[i])
	}
	return out
}

type MemoryResponse struct {
	EntityID int64    `json:"entity_id,string"`
	Items    []string `json:"items"`
}

func ToMemoryResponse(e *model.Entity) MemoryResponse {
	items := e.Memory
	if items == nil {
		items = []string{}
	}
	return MemoryResponse{EntityID: e.ID, Items: items}
}

type TriggerResponse struct {
	Enqueued bool `json:"enqueued"`
}
