package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/service"
)

var _ = Describe("ScheduleService", func() {
	It("lists armed countdowns soonest first", func() {
		base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
		later := base.Add(2 * time.Hour)
		soon := base.Add(10 * time.Minute)

		entities := &mockEntityStore{
			listFn: func(context.Context) ([]model.Entity, error) {
				return []model.Entity{
					{ID: 1, Proactive: model.ProactiveConfig{Enabled: true, NextFireAt: &later}},
					{ID: 2},
					{ID: 3, Proactive: model.ProactiveConfig{Enabled: true}},
				}, nil
			},
		}
		tasks := &mockTaskStore{
			listOpenFn: func(context.Context) ([]model.ScheduledTask, error) {
				return []model.ScheduledTask{
					{ID: 10, EntityID: 1, TriggerAt: base.Add(time.Hour)},
					{ID: 11, EntityID: 3, TriggerAt: base, NextFireAt: &soon},
				}, nil
			},
		}

		out, err := service.NewScheduleService(entities, tasks).Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(4))

		Expect(out[0].ID).To(Equal(int64(11)))
		Expect(out[0].Pending).To(BeFalse())
		Expect(out[1].ID).To(Equal(int64(10)))
		Expect(out[1].Pending).To(BeTrue())
		Expect(*out[1].NextFireAt).To(Equal(base.Add(time.Hour)))
		Expect(out[2].ID).To(Equal(int64(1)))
		Expect(out[2].Kind).To(Equal("proactive"))
		Expect(out[3].ID).To(Equal(int64(3)))
		Expect(out[3].NextFireAt).To(BeNil())
	})
})
