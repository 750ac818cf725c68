// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// bootstrap for the monitoring service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the monitoring pipeline.
type Metrics struct {
	// Cycle metrics
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleRunning  prometheus.Gauge

	// Pipeline metrics
	publicationsScanned prometheus.Counter
	publicationsDropped prometheus.Counter
	changesDetected     *prometheus.CounterVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionsFailed   *prometheus.CounterVec
	actionRetries   prometheus.Counter
	actionDuration  *prometheus.HistogramVec

	// Notification metrics
	notificationsSent   prometheus.Counter
	notificationsFailed prometheus.Counter

	// Escalation metrics
	escalations prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normwatch_cycles_total",
				Help: "Total number of monitoring cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "normwatch_cycle_duration_seconds",
				Help:    "Duration of monitoring cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
		cycleRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "normwatch_cycle_running",
				Help: "Whether a monitoring cycle is currently running (0 or 1)",
			},
		),
		publicationsScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_publications_scanned_total",
				Help: "Total number of publications fetched from the feed",
			},
		),
		publicationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_publications_dropped_total",
				Help: "Total number of publications discarded by the relevance filter",
			},
		),
		changesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normwatch_changes_detected_total",
				Help: "Total number of regulatory changes detected by type and tier",
			},
			[]string{"change_type", "impact_tier"},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normwatch_actions_executed_total",
				Help: "Total number of remediation actions executed by type",
			},
			[]string{"action_type"},
		),
		actionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normwatch_actions_failed_total",
				Help: "Total number of remediation actions that exhausted retries by type",
			},
			[]string{"action_type"},
		),
		actionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_action_retries_total",
				Help: "Total number of action retry attempts",
			},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "normwatch_action_duration_seconds",
				Help:    "Duration of action handler executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action_type"},
		),
		notificationsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_notifications_sent_total",
				Help: "Total number of per-recipient notifications delivered",
			},
		),
		notificationsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_notifications_failed_total",
				Help: "Total number of per-recipient notifications that failed",
			},
		),
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "normwatch_escalations_total",
				Help: "Total number of critical-tier escalation alerts raised",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.cyclesTotal, m.cycleDuration, m.cycleRunning,
		m.publicationsScanned, m.publicationsDropped, m.changesDetected,
		m.actionsExecuted, m.actionsFailed, m.actionRetries, m.actionDuration,
		m.notificationsSent, m.notificationsFailed, m.escalations,
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records a completed cycle with its outcome ("success",
// "failed") and duration.
func (m *Metrics) RecordCycle(outcome string, duration time.Duration) {
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// SetCycleRunning flips the running gauge.
func (m *Metrics) SetCycleRunning(running bool) {
	if running {
		m.cycleRunning.Set(1)
	} else {
		m.cycleRunning.Set(0)
	}
}

// RecordPublications records scanned and filter-dropped publication counts
// for one cycle.
func (m *Metrics) RecordPublications(scanned, dropped int) {
	m.publicationsScanned.Add(float64(scanned))
	m.publicationsDropped.Add(float64(dropped))
}

// RecordChangeDetected counts one detected change.
func (m *Metrics) RecordChangeDetected(changeType, impactTier string) {
	m.changesDetected.WithLabelValues(changeType, impactTier).Inc()
}

// RecordActionExecuted counts a successfully executed action.
func (m *Metrics) RecordActionExecuted(actionType string, duration time.Duration) {
	m.actionsExecuted.WithLabelValues(actionType).Inc()
	m.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordActionFailed counts an action that exhausted its retries.
func (m *Metrics) RecordActionFailed(actionType string) {
	m.actionsFailed.WithLabelValues(actionType).Inc()
}

// RecordActionRetry counts one retry attempt.
func (m *Metrics) RecordActionRetry() {
	m.actionRetries.Inc()
}

// RecordNotification counts one per-recipient notification outcome.
func (m *Metrics) RecordNotification(ok bool) {
	if ok {
		m.notificationsSent.Inc()
	} else {
		m.notificationsFailed.Inc()
	}
}

// RecordEscalation counts one critical-tier alert.
func (m *Metrics) RecordEscalation() {
	m.escalations.Inc()
}
