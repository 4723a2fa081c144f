package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/handler"
)

func ConversationRouter(rg *gin.RouterGroup, h *handler.ConversationHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Delete)
	rg.GET("/:id/messages", h.Messages)
	rg.POST("/:id/messages", h.PostMessage)
	rg.GET("/:id/reminders", h.Reminders)
}
