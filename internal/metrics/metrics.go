package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chorus"

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	BackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_task_failures_total",
		Help:      "Supervised background tasks that returned an error or panicked.",
	}, []string{"task", "reason"})

	Passes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orchestration_passes_total",
		Help:      "Orchestration passes by conversation kind and outcome.",
	}, []string{"kind", "outcome"})

	Requeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orchestration_requeued_total",
		Help:      "Batches re-queued behind an active pass.",
	})

	BackendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_calls_total",
		Help:      "Generation backend calls by path and outcome.",
	}, []string{"path", "outcome"})

	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_call_duration_seconds",
		Help:      "Generation backend latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"path"})

	SegmentsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_delivered_total",
		Help:      "Message segments delivered.",
	})

	AdmissionDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_denied_total",
		Help:      "Speakers dropped by the admission gate.",
	})

	CountdownFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "countdown_fires_total",
		Help:      "Countdown firings by kind and outcome.",
	}, []string{"kind", "outcome"})

	CountdownArmed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "countdown_armed",
		Help:      "Armed countdown slots by kind.",
	}, []string{"kind"})

	QuietDeferred = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quiet_deferred_pending",
		Help:      "Deliveries held back by the quiet window.",
	})

	Summaries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memory_summaries_total",
		Help:      "Memory summarization runs by outcome.",
	}, []string{"outcome"})

	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_messages_total",
		Help:      "Stream messages handled by task type and outcome.",
	}, []string{"task_type", "outcome"})

	TuningReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tuning_reloads_total",
		Help:      "Tuning file reloads by outcome.",
	}, []string{"outcome"})
)
