package dto

import (
	"time"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/service"
)

type QuietHoursRequest struct {
	Enabled   bool `json:"enabled"`
	StartHour *int `json:"start_hour" binding:"required,min=0,max=23"`
	EndHour   *int `json:"end_hour" binding:"required,min=0,max=23"`
}

func (r QuietHoursRequest) ToModel() model.QuietHours {
	return model.QuietHours{Enabled: r.Enabled, StartHour: *r.StartHour, EndHour: *r.EndHour}
}

type QuietHoursResponse struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

func ToQuietHoursResponse(q model.QuietHours) QuietHoursResponse {
	return QuietHoursResponse{Enabled: q.Enabled, StartHour: q.StartHour, EndHour: q.EndHour}
}

type BackendResponse struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
}

type SettingsResponse struct {
	QuietHours       QuietHoursResponse `json:"quiet_hours"`
	QuietHoursStored bool               `json:"quiet_hours_stored"`
	Backends         []BackendResponse  `json:"backends"`
}

func ToSettingsResponse(s *service.Settings) SettingsResponse {
	out := SettingsResponse{
		QuietHours:       ToQuietHoursResponse(s.QuietHours),
		QuietHoursStored: s.QuietHoursStored,
		Backends:         make([]BackendResponse, len(s.Backends)),
	}
	for i, b := range s.Backends {
		out.Backends[i] = BackendResponse{Name: b.Name, Provider: b.Provider, Model: b.Model, APIKey: b.APIKey}
	}
	return out
}

type ScheduleEntryResponse struct {
	Kind       string     `json:"kind"`
	ID         int64      `json:"id,string"`
	EntityID   int64      `json:"entity_id,string"`
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`
	Pending    bool       `json:"pending"`
}

type ScheduleResponse struct {
	Entries []ScheduleEntryResponse `json:"entries"`
}

func ToScheduleResponse(entries []service.ScheduleEntry) ScheduleResponse {
	out := ScheduleResponse{Entries: make([]ScheduleEntryResponse, len(entries))}
	for i, e := range entries {
		out.Entries[i] = ScheduleEntryResponse{
			Kind:       e.Kind,
			ID:         e.ID,
			EntityID:   e.EntityID,
			NextFireAt: e.NextFireAt,
			Pending:    e.Pending,
		}
	}
	return out
}
