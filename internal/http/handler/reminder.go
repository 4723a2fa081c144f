package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/dto"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/service"
)

type ReminderHandler struct {
	reminderService service.ReminderService
}

func NewReminderHandler(reminderService service.ReminderService) *ReminderHandler {
	return &ReminderHandler{reminderService: reminderService}
}

func (h *ReminderHandler) Create(c *gin.Context) {
	var req dto.CreateReminderRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.reminderService.Create(c.Request.Context(), service.CreateReminderParams{
		ConversationID: int64(req.ConversationID),
		EntityID:       int64(req.EntityID),
		Message:        req.Message,
		Prompt:         req.Prompt,
		TriggerAt:      req.TriggerAt,
		Repeat:         model.Repeat(req.Repeat),
	})
	if err != nil {
		respondError(c, err, "create reminder")
		return
	}
	c.JSON(http.StatusCreated, dto.ToReminderResponse(task))
}

func (h *ReminderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.reminderService.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err, "cancel reminder")
		return
	}
	c.Status(http.StatusNoContent)
}
