package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

// Backend describes a configured generation backend. APIKey is always masked.
type Backend struct {
	Name     string
	Provider string
	Model    string
	APIKey   string
}

type Settings struct {
	QuietHours model.QuietHours
	// QuietHoursStored is false while the default window applies.
	QuietHoursStored bool
	Backends         []Backend
}

type SettingsService interface {
	Get(ctx context.Context) (*Settings, error)
	UpdateQuietHours(ctx context.Context, q model.QuietHours) (*model.QuietHours, error)
}

type settingsService struct {
	settings     store.SettingsStore
	producer     queue.Producer
	defaultQuiet model.QuietHours
	backends     []Backend
}

// NewSettingsService takes backends with raw keys; they are masked here.
func NewSettingsService(settings store.SettingsStore, producer queue.Producer, defaultQuiet model.QuietHours, backends []Backend) SettingsService {
	masked := make([]Backend, len(backends))
	for i, b := range backends {
		b.APIKey = MaskKey(b.APIKey)
		masked[i] = b
	}
	return &settingsService{
		settings:     settings,
		producer:     producer,
		defaultQuiet: defaultQuiet,
		backends:     masked,
	}
}

func (s *settingsService) Get(ctx context.Context) (*Settings, error) {
	out := &Settings{QuietHours: s.defaultQuiet, Backends: s.backends}
	q, err := s.settings.QuietHours(ctx)
	switch {
	case err == nil:
		out.QuietHours = *q
		out.QuietHoursStored = true
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading quiet hours: %w", err)
	}
	return out, nil
}

func (s *settingsService) UpdateQuietHours(ctx context.Context, q model.QuietHours) (*model.QuietHours, error) {
	if !q.Valid() {
		return nil, invalid("hours must be between 0 and 23")
	}
	if err := s.settings.SetQuietHours(ctx, q); err != nil {
		return nil, fmt.Errorf("storing quiet hours: %w", err)
	}
	enqueue(ctx, s.producer, queue.Task{TaskType: queue.TaskTypeSettingsChanged})
	return &q, nil
}

// MaskKey keeps the first 8 and last 4 characters of a key.
func MaskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) > 12:
		return key[:8] + "..." + key[len(key)-4:]
	default:
		return "***"
	}
}
