package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/dto"
	"basegraph.app/chorus/internal/service"
)

type SettingsHandler struct {
	settingsService service.SettingsService
	scheduleService service.ScheduleService
}

func NewSettingsHandler(settingsService service.SettingsService, scheduleService service.ScheduleService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService, scheduleService: scheduleService}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err, "get settings")
		return
	}
	c.JSON(http.StatusOK, dto.ToSettingsResponse(s))
}

func (h *SettingsHandler) UpdateQuietHours(c *gin.Context) {
	var req dto.QuietHoursRequest
	if !bindJSON(c, &req) {
		return
	}
	q, err := h.settingsService.UpdateQuietHours(c.Request.Context(), req.ToModel())
	if err != nil {
		respondError(c, err, "update quiet hours")
		return
	}
	c.JSON(http.StatusOK, dto.ToQuietHoursResponse(*q))
}

func (h *SettingsHandler) Schedule(c *gin.Context) {
	entries, err := h.scheduleService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err, "get schedule")
		return
	}
	c.JSON(http.StatusOK, dto.ToScheduleResponse(entries))
}
