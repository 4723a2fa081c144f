package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/chorus/internal/http/dto"
	"basegraph.app/chorus/internal/service"
)

type ConversationHandler struct {
	convService     service.ConversationService
	reminderService service.ReminderService
	traceHeader     string
}

func NewConversationHandler(convService service.ConversationService, reminderService service.ReminderService, traceHeader string) *ConversationHandler {
	return &ConversationHandler{
		convService:     convService,
		reminderService: reminderService,
		traceHeader:     traceHeader,
	}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req dto.CreateConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	conv, err := h.convService.Create(c.Request.Context(), service.CreateConversationParams{
		Kind:        req.Kind,
		Title:       req.Title,
		MemberIDs:   dto.Int64s(req.MemberIDs),
		AllowAIToAI: req.AllowAIToAI,
	})
	if err != nil {
		respondError(c, err, "create conversation")
		return
	}
	c.JSON(http.StatusCreated, dto.ToConversationResponse(conv))
}

func (h *ConversationHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	convs, err := h.convService.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "list conversations")
		return
	}
	c.JSON(http.StatusOK, dto.ToListConversationsResponse(convs))
}

func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	conv, err := h.convService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get conversation")
		return
	}
	c.JSON(http.StatusOK, dto.ToConversationResponse(conv))
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.convService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

// Messages pages backwards with ?before=<message id>&limit=<n>.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
			return
		}
		before = v
	}

	msgs, err := h.convService.Messages(c.Request.Context(), id, before, limit)
	if err != nil {
		respondError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, dto.ToListMessagesResponse(msgs))
}

// PostMessage answers 202: replies arrive asynchronously through the notifier
// and the message list.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.PostMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.convService.PostMessage(c.Request.Context(), service.PostMessageParams{
		ConversationID: id,
		Content:        req.Content,
		TraceID:        c.GetHeader(h.traceHeader),
	})
	if err != nil {
		respondError(c, err, "post message")
		return
	}
	c.JSON(http.StatusAccepted, dto.PostMessageResponse{
		Message:  dto.ToMessageResponse(res.Message),
		Enqueued: res.Enqueued,
	})
}

func (h *ConversationHandler) Reminders(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tasks, err := h.reminderService.List(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "list reminders")
		return
	}
	c.JSON(http.StatusOK, dto.ToListRemindersResponse(tasks))
}
