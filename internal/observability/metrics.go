package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService tracks Task Runner throughput, retry counts, and
// circuit-breaker state for the routine execution engine.
type MetricsService struct {
	taskExecutionsTotal  *prometheus.CounterVec
	taskExecutionSeconds *prometheus.HistogramVec
	taskRetriesTotal     *prometheus.CounterVec
	taskErrorsTotal      *prometheus.CounterVec
	circuitState         *prometheus.GaugeVec
	executionsTotal      *prometheus.CounterVec
}

// NewMetricsService registers the routine engine's Prometheus
// collectors against the default registry.
func NewMetricsService() *MetricsService {
	return &MetricsService{
		taskExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routines_task_executions_total",
				Help: "Total number of plugin task invocations, by plugin and outcome.",
			},
			[]string{"plugin_id", "status"},
		),
		taskExecutionSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routines_task_execution_duration_seconds",
				Help:    "Duration of a single plugin task invocation attempt.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"plugin_id"},
		),
		taskRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routines_task_retries_total",
				Help: "Total number of retried plugin task attempts, by plugin.",
			},
			[]string{"plugin_id"},
		),
		taskErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routines_task_errors_total",
				Help: "Total number of plugin task failures, by plugin and error kind.",
			},
			[]string{"plugin_id", "kind"},
		),
		circuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routines_circuit_breaker_state",
				Help: "Per-plugin circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
			[]string{"plugin_id"},
		),
		executionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routines_executions_total",
				Help: "Total number of routine executions, by terminal status.",
			},
			[]string{"status"},
		),
	}
}

// RecordTaskExecution records one completed plugin invocation attempt.
func (m *MetricsService) RecordTaskExecution(pluginID, status string, duration time.Duration) {
	m.taskExecutionsTotal.WithLabelValues(pluginID, status).Inc()
	m.taskExecutionSeconds.WithLabelValues(pluginID).Observe(duration.Seconds())
}

// RecordTaskRetry records one retried attempt for pluginID.
func (m *MetricsService) RecordTaskRetry(pluginID string) {
	m.taskRetriesTotal.WithLabelValues(pluginID).Inc()
}

// RecordTaskError records one terminal task failure.
func (m *MetricsService) RecordTaskError(pluginID, kind string) {
	m.taskErrorsTotal.WithLabelValues(pluginID, kind).Inc()
}

// RecordCircuitState records a circuit breaker's new state for pluginID
// (intended as a gobreaker.Settings.OnStateChange callback), encoding
// gobreaker.State's own 0/1/2 (closed/half-open/open) ordering.
func (m *MetricsService) RecordCircuitState(pluginID string, state int) {
	m.circuitState.WithLabelValues(pluginID).Set(float64(state))
}

// RecordExecution records one routine execution's terminal status.
func (m *MetricsService) RecordExecution(status string) {
	m.executionsTotal.WithLabelValues(status).Inc()
}

// Handler exposes the metrics in Prometheus exposition format.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// Describe and Collect make MetricsService itself a prometheus.Collector
// over its own vecs, independent of the promauto registration each vec
// already did against the default registerer — useful for tests that
// want to inspect a MetricsService's state directly.
func (m *MetricsService) Describe(ch chan<- *prometheus.Desc) {
	m.taskExecutionsTotal.Describe(ch)
	m.taskExecutionSeconds.Describe(ch)
	m.taskRetriesTotal.Describe(ch)
	m.taskErrorsTotal.Describe(ch)
	m.circuitState.Describe(ch)
	m.executionsTotal.Describe(ch)
}

func (m *MetricsService) Collect(ch chan<- prometheus.Metric) {
	m.taskExecutionsTotal.Collect(ch)
	m.taskExecutionSeconds.Collect(ch)
	m.taskRetriesTotal.Collect(ch)
	m.taskErrorsTotal.Collect(ch)
	m.circuitState.Collect(ch)
	m.executionsTotal.Collect(ch)
}
