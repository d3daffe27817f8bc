package graph

import (
	"context"
	"fmt"
	"time"
)

// stepDeadline determines the timeout for a step based on precedence:
//  1. Per-step override on the graph (Builder.SetTimeout)
//  2. Engine-wide default (WithStepTimeout)
//  3. 0 (no deadline, unlimited execution)
func stepDeadline(g *Graph, stepID string, defaultTimeout time.Duration) time.Duration {
	if d := g.stepTimeout(stepID); d > 0 {
		return d
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeStep wraps a step invocation with timeout enforcement.
//
// A timed-out step is reported as an ordinary step fault (the "other fault"
// path): the engine persists nothing and does not retry automatically, so
// the step re-runs on the next resume.
func (e *Engine) executeStep(ctx context.Context, g *Graph, step Step, stepID string, state State) StepResult {
	timeout := stepDeadline(g, stepID, e.opts.DefaultStepTimeout)

	if timeout == 0 {
		return step.Run(ctx, state)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := step.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return StepResult{Err: &EngineError{
			Message: fmt.Sprintf("step %s exceeded timeout of %v", stepID, timeout),
			Code:    "STEP_TIMEOUT",
		}}
	}
	return result
}
