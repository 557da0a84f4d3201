// Package monitoring exposes Prometheus metrics for the resource-control core.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the core.
type Metrics struct {
	// HTTP control-plane metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Capability metrics
	TokensIssued    prometheus.Counter
	TokensDelegated prometheus.Counter
	TokensRevoked   prometheus.Counter
	Validations     *prometheus.CounterVec

	// Namespace metrics
	NamespacesLive prometheus.Gauge

	// Memory metrics
	RegionsLive   prometheus.Gauge
	BytesReserved prometheus.Gauge
	AllocFailures *prometheus.CounterVec

	// Scheduler metrics
	TasksByState      *prometheus.GaugeVec
	TasksSubmitted    *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	QueueRejections   prometheus.Counter
	AgingPromotions   prometheus.Counter
	CompletionLatency prometheus.Histogram

	// WebSocket metrics
	StreamConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics registers collectors on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers collectors on a specific registerer. Tests pass a
// fresh registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_http_requests_total",
				Help: "Total number of control-plane requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_http_request_duration_seconds",
				Help:    "Control-plane request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		TokensIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "core_capability_tokens_issued_total",
				Help: "Total number of capability tokens issued",
			},
		),
		TokensDelegated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "core_capability_tokens_delegated_total",
				Help: "Total number of capability tokens delegated",
			},
		),
		TokensRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "core_capability_tokens_revoked_total",
				Help: "Total number of capability tokens revoked",
			},
		),
		Validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_capability_validations_total",
				Help: "Capability validation outcomes",
			},
			[]string{"outcome"},
		),

		NamespacesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_namespaces_live",
				Help: "Number of live namespaces",
			},
		),

		RegionsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_memory_regions_live",
				Help: "Number of live memory regions",
			},
		),
		BytesReserved: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_memory_bytes_reserved",
				Help: "Bytes currently reserved by live regions",
			},
		),
		AllocFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_memory_alloc_failures_total",
				Help: "Allocation failures by kind",
			},
			[]string{"kind"},
		),

		TasksByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_sched_tasks",
				Help: "Tasks by state",
			},
			[]string{"state"},
		),
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_sched_tasks_submitted_total",
				Help: "Tasks submitted by priority class",
			},
			[]string{"class"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_sched_queue_depth",
				Help: "Submission queue depth by namespace",
			},
			[]string{"namespace"},
		),
		QueueRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sched_queue_rejections_total",
				Help: "Submissions rejected with a full queue",
			},
		),
		AgingPromotions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sched_aging_promotions_total",
				Help: "Tasks promoted by the aging mechanism",
			},
		),
		CompletionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "core_sched_completion_latency_seconds",
				Help:    "Latency from submission to completion delivery",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),

		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_stream_connections",
				Help: "Active completion-stream WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_uptime_seconds",
				Help: "Core uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records a control-plane request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordValidation records a capability validation outcome.
func (m *Metrics) RecordValidation(outcome string) {
	m.Validations.WithLabelValues(outcome).Inc()
}

// SetTaskState sets the gauge for a task state.
func (m *Metrics) SetTaskState(state string, count int) {
	m.TasksByState.WithLabelValues(state).Set(float64(count))
}

// SetQueueDepth sets the submission queue depth for a namespace.
func (m *Metrics) SetQueueDepth(namespace string, depth int) {
	m.QueueDepth.WithLabelValues(namespace).Set(float64(depth))
}
