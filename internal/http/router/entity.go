package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/handler"
)

func EntityRouter(rg *gin.RouterGroup, h *handler.EntityHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id/proactive", h.UpdateProactive)
	rg.POST("/:id/proactive/trigger", h.TriggerProactive)
	rg.GET("/:id/memory", h.Memory)
	rg.DELETE("/:id/memory", h.ClearMemory)
}
