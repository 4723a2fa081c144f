package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/dto"
	"basegraph.app/chorus/internal/service"
)

type EntityHandler struct {
	entityService service.EntityService
}

func NewEntityHandler(entityService service.EntityService) *EntityHandler {
	return &EntityHandler{entityService: entityService}
}

func (h *EntityHandler) Create(c *gin.Context) {
	var req dto.CreateEntityRequest
	if !bindJSON(c, &req) {
		return
	}

	entity, err := h.entityService.Create(c.Request.Context(), service.CreateEntityParams{
		Name:             req.Name,
		Description:      req.Description,
		SystemPrompt:     req.SystemPrompt,
		AffinityKeywords: req.AffinityKeywords,
		Proactive:        req.Proactive.ToModel(),
	})
	if err != nil {
		respondError(c, err, "create entity")
		return
	}
	c.JSON(http.StatusCreated, dto.ToEntityResponse(entity))
}

func (h *EntityHandler) List(c *gin.Context) {
	entities, err := h.entityService.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "list entities")
		return
	}
	c.JSON(http.StatusOK, dto.ToListEntitiesResponse(entities))
}

func (h *EntityHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entity, err := h.entityService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get entity")
		return
	}
	c.JSON(http.StatusOK, dto.ToEntityResponse(entity))
}

func (h *EntityHandler) UpdateProactive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ProactiveRequest
	if !bindJSON(c, &req) {
		return
	}

	entity, err := h.entityService.UpdateProactive(c.Request.Context(), id, req.ToModel())
	if err != nil {
		respondError(c, err, "update proactive config")
		return
	}
	c.JSON(http.StatusOK, dto.ToEntityResponse(entity))
}

func (h *EntityHandler) Memory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entity, err := h.entityService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get memory")
		return
	}
	c.JSON(http.StatusOK, dto.ToMemoryResponse(entity))
}

func (h *EntityHandler) ClearMemory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.entityService.ClearMemory(c.Request.Context(), id); err != nil {
		respondError(c, err, "clear memory")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EntityHandler) TriggerProactive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	enqueued, err := h.entityService.TriggerProactive(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "trigger proactive message")
		return
	}
	c.JSON(http.StatusAccepted, dto.TriggerResponse{Enqueued: enqueued})
}
