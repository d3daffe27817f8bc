// Package graph provides a durable workflow-graph execution engine with
// human-in-the-loop interruption.
package graph

import (
	"errors"

	"github.com/dshills/stategraph/graph/store"
)

// ErrNoStateToResume indicates a resume was requested (no input supplied)
// for a thread that has no snapshot history.
var ErrNoStateToResume = errors.New("no snapshot to resume from and no input supplied")

// ErrThreadNotFound indicates a read or mutation referenced a thread with no
// snapshot history. It is the store's not-found sentinel, re-exported so
// callers of the engine don't need to import the store package to match it.
var ErrThreadNotFound = store.ErrNotFound

// EngineError represents a configuration or runtime error from Engine
// operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ValidationError reports an invalid graph definition at build time.
// Build-time validation failures are fatal and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid graph: " + e.Message
}

// SchemaError reports a state patch that writes a field not declared in the
// graph's schema. The patch is rejected before any write.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return "field not declared in graph schema: " + e.Field
}

// StepError wraps a fault raised by a step's own logic. The engine persists
// no snapshot for a faulted step, so the step remains re-runnable on the
// next resume.
type StepError struct {
	// StepID identifies which step produced this error.
	StepID string

	// Cause is the underlying error returned by the step.
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return "step " + e.StepID + ": " + e.Cause.Error()
	}
	return "step " + e.StepID + " failed"
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *StepError) Unwrap() error {
	return e.Cause
}
