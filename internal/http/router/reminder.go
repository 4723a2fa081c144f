package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/handler"
)

func ReminderRouter(rg *gin.RouterGroup, h *handler.ReminderHandler) {
	rg.POST("", h.Create)
	rg.DELETE("/:id", h.Cancel)
}

// SettingsRouter mounts settings and the persisted schedule view.
func SettingsRouter(rg *gin.RouterGroup, h *handler.SettingsHandler) {
	rg.GET("/settings", h.Get)
	rg.PUT("/settings/quiet-hours", h.UpdateQuietHours)
	rg.GET("/schedule", h.Schedule)
}
