package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TaskMetrics tracks the ingestion worker pool.
type TaskMetrics struct {
	registry *prometheus.Registry

	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	tasksInFlight prometheus.Gauge
	queueDepth    prometheus.Gauge
}

func NewTaskMetrics(service string) *TaskMetrics {
	registry := prometheus.NewRegistry()

	tasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledge",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Total ingestion tasks by terminal status.",
		},
		[]string{"service", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowledge",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Ingestion task duration in seconds by terminal status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	tasksInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knowledge",
			Subsystem: "tasks",
			Name:      "in_flight",
			Help:      "Number of tasks currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knowledge",
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(tasksTotal, taskDuration, tasksInFlight, queueDepth)

	return &TaskMetrics{
		registry:      registry,
		tasksTotal:    tasksTotal,
		taskDuration:  taskDuration,
		tasksInFlight: tasksInFlight,
		queueDepth:    queueDepth,
	}
}

func (m *TaskMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *TaskMetrics) TaskQueued() {
	m.queueDepth.Inc()
}

func (m *TaskMetrics) TaskStarted() {
	m.queueDepth.Dec()
	m.tasksInFlight.Inc()
}

func (m *TaskMetrics) TaskFinished(service, status string, duration time.Duration) {
	m.tasksInFlight.Dec()
	m.tasksTotal.WithLabelValues(service, status).Inc()
	m.taskDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// TaskDropped accounts for tasks cancelled before a worker picked them up.
func (m *TaskMetrics) TaskDropped(service, status string) {
	m.queueDepth.Dec()
	m.tasksTotal.WithLabelValues(service, status).Inc()
}
