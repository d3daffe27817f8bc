package emit

// Emitter receives and processes observability events from thread execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down the execution loop
//   - Thread-safe: May be called concurrently for distinct threads
//   - Resilient: Handle failures gracefully (don't crash the run)
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block thread execution. If the backend is
	// unavailable or slow, events should be buffered, dropped with internal
	// logging, or sent asynchronously.
	//
	// Emit should not panic. Errors should be handled internally.
	Emit(event Event)
}
