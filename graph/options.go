package graph

import "time"

// Options configures Engine execution behavior.
//
// Zero values are valid - the Engine will use sensible defaults.
type Options struct {
	// MaxSteps limits the number of step executions in a single invocation
	// to prevent runaway graphs. If 0, no limit is enforced (use with
	// caution for graphs containing loops).
	MaxSteps int

	// DefaultStepTimeout is the maximum execution time for steps without a
	// per-step override on the graph. If 0, steps run without a deadline.
	// A timed-out step surfaces as an ordinary step fault; the engine does
	// not retry automatically.
	DefaultStepTimeout time.Duration

	// Metrics, if non-nil, receives Prometheus metric updates during
	// execution.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(
//	    st,
//	    emitter,
//	    graph.WithMaxSteps(100),
//	    graph.WithStepTimeout(10*time.Second),
//	)
type Option func(*Options)

// WithMaxSteps limits invocation length to prevent infinite loops.
//
// Default: 0 (no limit, use with caution).
//
// Workflow loops (A -> B -> A) are fully supported; use MaxSteps to guard
// against a misconfigured conditional exit. When the limit is exceeded, Run
// returns an EngineError with code "MAX_STEPS_EXCEEDED" and no further
// snapshot is appended.
//
// Recommended values:
//   - Simple graphs (3-5 steps): 20
//   - Graphs with loops: depth x max_iterations
func WithMaxSteps(n int) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithStepTimeout sets the default maximum execution time per step.
//
// Default: 0 (no deadline). Individual steps can override via
// Builder.SetTimeout. Prevents a single slow step from blocking thread
// progress indefinitely; the timeout manifests as a step fault, leaving the
// last good snapshot intact.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultStepTimeout = d
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// All metrics are updated automatically during execution.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(st, emitter, graph.WithMetrics(metrics))
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(o *Options) {
		o.Metrics = metrics
	}
}
