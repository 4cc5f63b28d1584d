package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the workflow engine.
type Metrics struct {
	// Step execution metrics
	StepAttemptsTotal   *prometheus.CounterVec
	StepAttemptDuration *prometheus.HistogramVec
	StepRetriesTotal    *prometheus.CounterVec
	StepTimeoutsTotal   *prometheus.CounterVec
	ActiveStepAttempts  *prometheus.GaugeVec

	// Sleep metrics
	SleepDurationSeconds *prometheus.HistogramVec

	// Workflow execution metrics
	WorkflowTransitionsTotal *prometheus.CounterVec
	ActiveWorkflowRuns       *prometheus.GaugeVec

	// Queue metrics
	LifecycleEventsPublishedTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Resource metrics
	DatabaseConnections *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		StepAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_attempts_total",
				Help: "Total number of step attempts, by step kind and outcome",
			},
			[]string{"step_kind", "status"},
		),

		StepAttemptDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_attempt_duration_seconds",
				Help:    "Duration of a single step attempt in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"step_kind"},
		),

		StepRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_retries_total",
				Help: "Total number of step retry attempts scheduled",
			},
			[]string{"step_kind", "backoff"},
		),

		StepTimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_timeouts_total",
				Help: "Total number of step attempts that exceeded their timeout",
			},
			[]string{"step_kind"},
		),

		ActiveStepAttempts: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workflow_active_step_attempts",
				Help: "Number of currently running step attempts",
			},
			[]string{"step_kind"},
		),

		SleepDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_sleep_duration_seconds",
				Help:    "Requested durable sleep duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"workflow_name"},
		),

		WorkflowTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_transitions_total",
				Help: "Total number of workflow lifecycle transitions",
			},
			[]string{"workflow_name", "status"},
		),

		ActiveWorkflowRuns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workflow_active_runs",
				Help: "Number of currently running (non-terminal) workflow instances on this process",
			},
			[]string{"workflow_name"},
		),

		LifecycleEventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_lifecycle_events_published_total",
				Help: "Total number of lifecycle events published to the message queue",
			},
			[]string{"kind", "status"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_errors_total",
				Help: "Total number of errors, by component and error type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workflow_database_connections",
				Help: "Number of database connections",
			},
			[]string{"state"}, // "active", "idle", "open"
		),
	}
}

// RecordStepAttempt records a step attempt metric.
func (m *Metrics) RecordStepAttempt(stepKind, status string) {
	m.StepAttemptsTotal.WithLabelValues(stepKind, status).Inc()
}

// ObserveStepDuration observes step attempt duration.
func (m *Metrics) ObserveStepDuration(stepKind string, seconds float64) {
	m.StepAttemptDuration.WithLabelValues(stepKind).Observe(seconds)
}

// RecordStepRetry records a scheduled retry.
func (m *Metrics) RecordStepRetry(stepKind, backoff string) {
	m.StepRetriesTotal.WithLabelValues(stepKind, backoff).Inc()
}

// RecordStepTimeout records a step attempt that exceeded its timeout.
func (m *Metrics) RecordStepTimeout(stepKind string) {
	m.StepTimeoutsTotal.WithLabelValues(stepKind).Inc()
}

// SetActiveStepAttempts sets the number of currently running step attempts.
func (m *Metrics) SetActiveStepAttempts(stepKind string, count float64) {
	m.ActiveStepAttempts.WithLabelValues(stepKind).Set(count)
}

// ObserveSleepDuration observes a requested durable sleep duration.
func (m *Metrics) ObserveSleepDuration(workflowName string, seconds float64) {
	m.SleepDurationSeconds.WithLabelValues(workflowName).Observe(seconds)
}

// RecordWorkflowTransition records a workflow lifecycle transition.
func (m *Metrics) RecordWorkflowTransition(workflowName, status string) {
	m.WorkflowTransitionsTotal.WithLabelValues(workflowName, status).Inc()
}

// SetActiveWorkflowRuns sets the number of active workflow runs.
func (m *Metrics) SetActiveWorkflowRuns(workflowName string, count float64) {
	m.ActiveWorkflowRuns.WithLabelValues(workflowName).Set(count)
}

// RecordLifecycleEventPublished records a lifecycle event publish outcome.
func (m *Metrics) RecordLifecycleEventPublished(kind, status string) {
	m.LifecycleEventsPublishedTotal.WithLabelValues(kind, status).Inc()
}

// RecordError records an error metric.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetDatabaseConnections sets database connection metrics.
func (m *Metrics) SetDatabaseConnections(state string, count float64) {
	m.DatabaseConnections.WithLabelValues(state).Set(count)
}
