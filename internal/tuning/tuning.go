// Package tuning holds the engine knobs that can change while the worker runs.
package tuning

import (
	"errors"
	"fmt"
	"time"

	"basegraph.app/chorus/internal/model"
)

type Tuning struct {
	// Input batching
	BatchWaitSeconds float64 `mapstructure:"batch_wait_seconds"`

	// Memory
	SummaryInterval int `mapstructure:"summary_interval"`
	SummaryRounds   int `mapstructure:"summary_rounds"`
	HistoryRounds   int `mapstructure:"history_rounds"`

	// Group turn-taking
	ReplyProbability     float64 `mapstructure:"reply_probability"`
	KeywordBoost         float64 `mapstructure:"keyword_boost"`
	ContinueProbability  float64 `mapstructure:"continue_probability"`
	GroupMaxRounds       int     `mapstructure:"group_max_rounds"`
	InterSpeakerDelayMs  int     `mapstructure:"inter_speaker_delay_ms"`
	MaxConsecutiveSpeaks int     `mapstructure:"max_consecutive_speaks"`

	// Admission
	CooldownSeconds     int `mapstructure:"cooldown_seconds"`
	MaxRepliesPerMinute int `mapstructure:"max_replies_per_minute"`

	// Proactive defaults for entities without explicit bounds
	ProactiveMinMinutes int `mapstructure:"proactive_min_minutes"`
	ProactiveMaxMinutes int `mapstructure:"proactive_max_minutes"`

	// Quiet window applied when no persisted setting exists
	QuietEnabled   bool `mapstructure:"quiet_enabled"`
	QuietStartHour int  `mapstructure:"quiet_start_hour"`
	QuietEndHour   int  `mapstructure:"quiet_end_hour"`

	// Cadence
	SegmentDelimiter  string `mapstructure:"segment_delimiter"`
	SegmentDelayMinMs int    `mapstructure:"segment_delay_min_ms"`
	SegmentDelayMaxMs int    `mapstructure:"segment_delay_max_ms"`

	// Backend
	BackendTimeoutSeconds int     `mapstructure:"backend_timeout_seconds"`
	ChatTemperature       float64 `mapstructure:"chat_temperature"`
	ProactiveTemperature  float64 `mapstructure:"proactive_temperature"`
	SummaryTemperature    float64 `mapstructure:"summary_temperature"`
}

func Defaults() Tuning {
	return Tuning{
		BatchWaitSeconds:      3,
		SummaryInterval:       40,
		SummaryRounds:         20,
		HistoryRounds:         10,
		ReplyProbability:      0.6,
		KeywordBoost:          0.3,
		ContinueProbability:   0.3,
		GroupMaxRounds:        3,
		InterSpeakerDelayMs:   1500,
		MaxConsecutiveSpeaks:  2,
		CooldownSeconds:       3,
		MaxRepliesPerMinute:   6,
		ProactiveMinMinutes:   30,
		ProactiveMaxMinutes:   120,
		QuietEnabled:          false,
		QuietStartHour:        23,
		QuietEndHour:          7,
		SegmentDelimiter:      "||",
		SegmentDelayMinMs:     300,
		SegmentDelayMaxMs:     1500,
		BackendTimeoutSeconds: 60,
		ChatTemperature:       0.8,
		ProactiveTemperature:  0.8,
		SummaryTemperature:    0.3,
	}
}

func (t Tuning) BatchWait() time.Duration {
	return time.Duration(t.BatchWaitSeconds * float64(time.Second))
}

func (t Tuning) InterSpeakerDelay() time.Duration {
	return time.Duration(t.InterSpeakerDelayMs) * time.Millisecond
}

func (t Tuning) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

func (t Tuning) SegmentDelayBounds() (time.Duration, time.Duration) {
	return time.Duration(t.SegmentDelayMinMs) * time.Millisecond, time.Duration(t.SegmentDelayMaxMs) * time.Millisecond
}

// DefaultQuietHours is the window used until one is stored.
func (t Tuning) DefaultQuietHours() model.QuietHours {
	return model.QuietHours{Enabled: t.QuietEnabled, StartHour: t.QuietStartHour, EndHour: t.QuietEndHour}
}

func (t Tuning) BackendTimeout() time.Duration {
	return time.Duration(t.BackendTimeoutSeconds) * time.Second
}

// Validate rejects values that would stall or break the engine. A reload that
// fails validation is discarded.
func (t Tuning) Validate() error {
	var errs []error
	probability := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}
	nonNegative := func(name string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	hour := func(name string, v int) {
		if v < 0 || v > 23 {
			errs = append(errs, fmt.Errorf("%s must be within 0-23, got %d", name, v))
		}
	}

	probability("reply_probability", t.ReplyProbability)
	probability("keyword_boost", t.KeywordBoost)
	probability("continue_probability", t.ContinueProbability)

	nonNegative("inter_speaker_delay_ms", t.InterSpeakerDelayMs)
	nonNegative("cooldown_seconds", t.CooldownSeconds)
	nonNegative("max_replies_per_minute", t.MaxRepliesPerMinute)
	nonNegative("segment_delay_min_ms", t.SegmentDelayMinMs)
	hour("quiet_start_hour", t.QuietStartHour)
	hour("quiet_end_hour", t.QuietEndHour)

	if t.BatchWaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("batch_wait_seconds must not be negative, got %v", t.BatchWaitSeconds))
	}
	if t.SummaryInterval < 1 {
		errs = append(errs, fmt.Errorf("summary_interval must be at least 1, got %d", t.SummaryInterval))
	}
	if t.SummaryRounds < 1 || t.HistoryRounds < 1 {
		errs = append(errs, errors.New("summary_rounds and history_rounds must be at least 1"))
	}
	if t.GroupMaxRounds < 1 {
		errs = append(errs, fmt.Errorf("group_max_rounds must be at least 1, got %d", t.GroupMaxRounds))
	}
	if t.MaxConsecutiveSpeaks < 1 {
		errs = append(errs, fmt.Errorf("max_consecutive_speaks must be at least 1, got %d", t.MaxConsecutiveSpeaks))
	}
	if t.ProactiveMinMinutes < 1 || t.ProactiveMaxMinutes < t.ProactiveMinMinutes {
		errs = append(errs, fmt.Errorf("proactive bounds must satisfy 1 <= min <= max, got %d..%d", t.ProactiveMinMinutes, t.ProactiveMaxMinutes))
	}
	if t.SegmentDelimiter == "" {
		errs = append(errs, errors.New("segment_delimiter must not be empty"))
	}
	if t.SegmentDelayMaxMs < t.SegmentDelayMinMs {
		errs = append(errs, fmt.Errorf("segment_delay_max_ms must be >= segment_delay_min_ms"))
	}
	if t.BackendTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("backend_timeout_seconds must be at least 1, got %d", t.BackendTimeoutSeconds))
	}

	return errors.Join(errs...)
}
