package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basegraph.app/chorus/internal/http/handler"
	"basegraph.app/chorus/internal/http/middleware"
	"basegraph.app/chorus/internal/service"
)

type RouterConfig struct {
	APIKey      string
	TraceHeader string
	// RateLimit is requests per minute per client on /api/v1; 0 disables it.
	RateLimit int
	// Checks back /ready, keyed by dependency name.
	Checks map[string]handler.Check
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	health := handler.NewHealthHandler(cfg.Checks)
	router.GET("/health", health.Live)
	router.GET("/ready", health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimit), middleware.RequireAPIKey(cfg.APIKey))
	{
		convHandler := handler.NewConversationHandler(services.Conversations(), services.Reminders(), cfg.TraceHeader)
		ConversationRouter(v1.Group("/conversations"), convHandler)

		entityHandler := handler.NewEntityHandler(services.Entities())
		EntityRouter(v1.Group("/entities"), entityHandler)

		reminderHandler := handler.NewReminderHandler(services.Reminders())
		ReminderRouter(v1.Group("/reminders"), reminderHandler)

		settingsHandler := handler.NewSettingsHandler(services.Settings(), services.Schedule())
		SettingsRouter(v1, settingsHandler)
	}
}
