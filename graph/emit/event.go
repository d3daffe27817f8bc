package emit

// Event represents an observability event emitted during thread execution.
//
// Events provide insight into engine behavior:
//   - Step completion and snapshot persistence
//   - Static and dynamic suspensions
//   - Run completion and failures
//   - External state mutations
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer in memory for inspection
type Event struct {
	// ThreadID identifies the execution thread that emitted this event.
	ThreadID string

	// Seq is the snapshot sequence number the event refers to.
	// Zero for run-level events that precede any persisted snapshot.
	Seq int64

	// StepID identifies which graph step the event concerns.
	// Empty string for run-level events.
	StepID string

	// Msg is a short machine-friendly description of the event.
	// Common values: "run started", "step completed", "interrupted",
	// "suspended", "run completed", "run failed", "state updated".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Step execution duration in milliseconds
	//   - "error": Error details
	//   - "reason": Interrupt reason
	//   - "phase": Interrupt phase ("before" or "during")
	//   - "pending": Pending step names after the event
	Meta map[string]interface{}
}
