package service

import (
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

type ServicesConfig struct {
	Stores       *store.Stores
	TxRunner     TxRunner
	Producer     queue.Producer
	DefaultQuiet model.QuietHours
	Backends     []Backend
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Conversations() ConversationService {
	return NewConversationService(s.cfg.Stores.Conversations(), s.cfg.Stores.Messages(), s.cfg.TxRunner, s.cfg.Producer)
}

func (s *Services) Entities() EntityService {
	return NewEntityService(s.cfg.Stores.Entities(), s.cfg.Producer)
}

func (s *Services) Reminders() ReminderService {
	return NewReminderService(s.cfg.Stores.Conversations(), s.cfg.Stores.Tasks(), s.cfg.Producer)
}

func (s *Services) Settings() SettingsService {
	return NewSettingsService(s.cfg.Stores.Settings(), s.cfg.Producer, s.cfg.DefaultQuiet, s.cfg.Backends)
}

func (s *Services) Schedule() ScheduleService {
	return NewScheduleService(s.cfg.Stores.Entities(), s.cfg.Stores.Tasks())
}
