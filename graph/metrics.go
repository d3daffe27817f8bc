package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// engine monitoring in production environments.
//
// Metrics exposed (all namespaced with "stategraph_"):
//
// 1. active_runs (gauge): Engine invocations currently executing.
// Use: Monitor concurrency and detect stuck invocations.
//
// 2. step_latency_ms (histogram): Step execution duration in milliseconds.
// Labels: step_id, status (success/interrupt/error).
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000, 10000].
// Use: P50/P95/P99 latency analysis per step.
//
// 3. steps_total (counter): Cumulative step executions.
// Labels: step_id, status.
// Use: Throughput and error-rate analysis per step.
//
// 4. suspensions_total (counter): Thread suspensions.
// Labels: phase ("before" for declared pauses, "during" for step-raised).
// Use: Track how often threads wait on human input.
//
// 5. append_conflicts_total (counter): Optimistic-concurrency losses on
// snapshot append.
// Use: Detect racing writers against the same thread.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(st, emitter, graph.WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: all methods use atomic operations or mutex protection.
type PrometheusMetrics struct {
	activeRuns  prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	steps       *prometheus.CounterVec
	suspensions *prometheus.CounterVec
	conflicts   prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all engine metrics with the
// provided Prometheus registry.
//
// Parameters:
//   - registry: Prometheus registry to register metrics with (nil uses
//     prometheus.DefaultRegisterer)
//
// All metrics are registered with namespace "stategraph". Histograms use
// buckets spanning typical step execution times (1ms to 10s).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "stategraph",
		Name:      "active_runs",
		Help:      "Engine invocations currently executing",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stategraph",
		Name:      "step_latency_ms",
		Help:      "Step execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"step_id", "status"})

	pm.steps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "steps_total",
		Help:      "Cumulative step executions by outcome",
	}, []string{"step_id", "status"})

	pm.suspensions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "suspensions_total",
		Help:      "Thread suspensions by interrupt phase",
	}, []string{"phase"})

	pm.conflicts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "stategraph",
		Name:      "append_conflicts_total",
		Help:      "Optimistic-concurrency losses on snapshot append",
	})

	return pm
}

// SetEnabled toggles metric recording. Disabled metrics methods are no-ops.
func (pm *PrometheusMetrics) SetEnabled(enabled bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = enabled
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RunStarted increments the active-runs gauge.
func (pm *PrometheusMetrics) RunStarted() {
	if !pm.isEnabled() {
		return
	}
	pm.activeRuns.Inc()
}

// RunFinished decrements the active-runs gauge.
func (pm *PrometheusMetrics) RunFinished() {
	if !pm.isEnabled() {
		return
	}
	pm.activeRuns.Dec()
}

// RecordStep records one step execution with its outcome and duration.
// status is "success", "interrupt", or "error".
func (pm *PrometheusMetrics) RecordStep(stepID, status string, d time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.steps.WithLabelValues(stepID, status).Inc()
	pm.stepLatency.WithLabelValues(stepID, status).Observe(float64(d.Milliseconds()))
}

// RecordSuspension records a thread suspension by interrupt phase.
func (pm *PrometheusMetrics) RecordSuspension(phase string) {
	if !pm.isEnabled() {
		return
	}
	pm.suspensions.WithLabelValues(phase).Inc()
}

// IncrementConflicts records an optimistic-concurrency loss.
func (pm *PrometheusMetrics) IncrementConflicts() {
	if !pm.isEnabled() {
		return
	}
	pm.conflicts.Inc()
}
