package model

import "time"

const (
	DefaultProactiveMinMinutes = 30
	DefaultProactiveMaxMinutes = 120
)

// Entity is a persona. The registry owns it; the engine reads it and only
// writes proactive scheduling state and memory.
type Entity struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	SystemPrompt     string          `json:"system_prompt"`
	AffinityKeywords []string        `json:"affinity_keywords"`
	Proactive        ProactiveConfig `json:"proactive"`
	Memory           []string        `json:"memory"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ProactiveConfig struct {
	Enabled       bool       `json:"enabled"`
	TriggerPrompt string     `json:"trigger_prompt"`
	MinMinutes    int        `json:"min_minutes"`
	MaxMinutes    int        `json:"max_minutes"`
	NextFireAt    *time.Time `json:"next_fire_at,omitempty"`
}

// Bounds returns the countdown interval, falling back to the defaults for
// unset or inverted bounds.
func (p ProactiveConfig) Bounds() (time.Duration, time.Duration) {
	minM, maxM := p.MinMinutes, p.MaxMinutes
	if minM <= 0 {
		minM = DefaultProactiveMinMinutes
	}
	if maxM <= 0 {
		maxM = DefaultProactiveMaxMinutes
	}
	if maxM < minM {
		maxM = minM
	}
	return time.Duration(minM) * time.Minute, time.Duration(maxM) * time.Minute
}
