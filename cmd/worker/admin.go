package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basegraph.app/chorus/core/config"
	"basegraph.app/chorus/internal/agenda"
	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/http/handler"
	"basegraph.app/chorus/internal/http/middleware"
)

// newAdminRouter serves probes, metrics and the live countdown state.
func newAdminRouter(cfg config.Config, ag *agenda.Agenda, checks map[string]handler.Check) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/ready", "/metrics"))

	health := handler.NewHealthHandler(checks)
	router.GET("/health", health.Live)
	router.GET("/ready", health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	debug := router.Group("/debug", middleware.RequireAPIKey(cfg.APIKey))
	debug.GET("/schedule", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		slots, err := ag.Status(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"slots": slots})
	})
	// Synchronous, unlike the queued API trigger, so the caller learns
	// whether anything was sent.
	debug.POST("/proactive/:id/trigger", func(c *gin.Context) {
		entityID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
			return
		}
		err = ag.TriggerProactive(c.Request.Context(), entityID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"sent": true})
		case errors.Is(err, countdown.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "a proactive message is already being sent"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	return router
}
