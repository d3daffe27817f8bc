package graph

import (
	"context"

	"github.com/dshills/stategraph/graph/store"
)

// State is the shared workflow state passed to every step: a mapping of
// schema-declared field names to JSON-serializable values. Aliased from the
// store package, which owns the persisted record types.
type State = store.State

// Step represents a named processing unit in the workflow graph.
// It receives the current state, performs computation, and returns a
// StepResult.
//
// Steps are arbitrary user-supplied functions. Each step can:
//   - Read the current state
//   - Perform computation (call LLMs, external services, or custom logic)
//   - Return a state patch via Complete
//   - Request suspension via Pause
//   - Fail with an ordinary error
//
// Step functions run synchronously: once started, a step runs to completion
// or fault. The engine checks cancellation between steps only.
type Step interface {
	// Run executes the step's logic with the given context and state.
	Run(ctx context.Context, state State) StepResult
}

// StepResult is the tagged result of a step invocation. Exactly one of the
// three outcomes applies:
//   - Patch set (possibly empty): the step completed; the patch is merged
//     into state field-wise, schema-validated.
//   - Pause set: the step requests suspension; its partial result is
//     discarded, state is not updated, and the step stays pending.
//   - Err set: the step faulted; the engine persists nothing and surfaces
//     the error to the caller.
//
// A pause is deliberately a returned value, not an error: the engine's
// control loop matches on it explicitly, so intended pauses can never be
// confused with real faults.
type StepResult struct {
	// Patch is the partial state update produced by this step.
	// Only schema-declared fields may appear; unknown fields are rejected.
	Patch State

	// Pause, if non-nil, requests suspension with the given reason.
	Pause *PauseSignal

	// Err contains any error that occurred during step execution.
	Err error
}

// PauseSignal is the value a step produces instead of a normal result,
// meaning "stop here, do not advance, record this reason".
type PauseSignal struct {
	// Reason explains why the step wants a human (or other external actor)
	// to look at the thread before it continues.
	Reason string
}

// Complete returns a StepResult carrying a state patch.
// A nil patch is valid and means "completed with no state change".
func Complete(patch State) StepResult {
	return StepResult{Patch: patch}
}

// Pause returns a StepResult requesting suspension with the given reason.
//
// The engine records the reason in the next snapshot's interrupts with
// phase "during" and leaves the step pending. Re-running the step against
// unmodified state is expected to reproduce the same pause.
func Pause(reason string) StepResult {
	return StepResult{Pause: &PauseSignal{Reason: reason}}
}

// Fail returns a StepResult carrying a step fault.
func Fail(err error) StepResult {
	return StepResult{Err: err}
}

// StepFunc is a function adapter that implements the Step interface.
// It allows using plain functions as steps without creating custom types.
//
// Example:
//
//	screen := graph.StepFunc(func(ctx context.Context, s graph.State) graph.StepResult {
//	    text, _ := s["input"].(string)
//	    if len(text) > 5 {
//	        return graph.Pause(fmt.Sprintf("input length %d exceeds limit", len(text)))
//	    }
//	    return graph.Complete(graph.State{"screened": true})
//	})
type StepFunc func(ctx context.Context, state State) StepResult

// Run implements the Step interface for StepFunc.
func (f StepFunc) Run(ctx context.Context, state State) StepResult {
	return f(ctx, state)
}

// Router decides the next step for a conditional edge. Any value with this
// signature qualifies: a static function, a closure, or a method value.
//
// Routers should be pure functions of the state (deterministic, no side
// effects); the engine may re-invoke them on resume.
type Router func(state State) string
