package handler_test

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/internal/http/handler"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/service"
)

var _ = Describe("ReminderHandler", func() {
	var (
		router *gin.Engine
		svc    *mockReminderService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockReminderService{}
		h := handler.NewReminderHandler(svc)
		router.POST("/reminders", h.Create)
		router.DELETE("/reminders/:id", h.Cancel)
	})

	It("creates a reminder", func() {
		var got service.CreateReminderParams
		svc.createFn = func(_ context.Context, p service.CreateReminderParams) (*model.ScheduledTask, error) {
			got = p
			return &model.ScheduledTask{ID: 9, ConversationID: p.ConversationID, EntityID: p.EntityID, Message: p.Message, TriggerAt: p.TriggerAt, Repeat: model.RepeatDaily}, nil
		}

		w := do(router, http.MethodPost, "/reminders", `{"conversation_id":"5","entity_id":"7","message":"stretch","trigger_at":"2025-03-14T18:00:00Z","repeat":"daily"}`)

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(got.ConversationID).To(Equal(int64(5)))
		Expect(got.EntityID).To(Equal(int64(7)))
		Expect(got.Repeat).To(Equal(model.RepeatDaily))
		Expect(got.TriggerAt).To(Equal(time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)))
		Expect(decode(w)["id"]).To(Equal("9"))
	})

	It("rejects an unknown repeat", func() {
		w := do(router, http.MethodPost, "/reminders", `{"conversation_id":"5","entity_id":"7","message":"x","trigger_at":"2025-03-14T18:00:00Z","repeat":"hourly"}`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("cancels a reminder", func() {
		var cancelled int64
		svc.cancelFn = func(_ context.Context, id int64) error {
			cancelled = id
			return nil
		}
		w := do(router, http.MethodDelete, "/reminders/9", nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(cancelled).To(Equal(int64(9)))
	})
})
