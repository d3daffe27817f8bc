package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// Snapshot is one immutable, versioned record in a thread's history.
// Aliased from the store package, which owns the persisted record types.
type Snapshot = store.Snapshot

// Interrupt records why a thread is suspended at a step.
type Interrupt = store.Interrupt

// Status is the terminal state of one engine invocation. It is terminal for
// the invocation only, not for the thread: a suspended thread can be resumed
// by a new invocation.
type Status string

const (
	// StatusCompleted means routing reached the end marker and the final
	// snapshot has an empty pending list.
	StatusCompleted Status = "completed"

	// StatusSuspended means execution stopped at a declared pause or a
	// step-raised interrupt. The latest snapshot's interrupts say why.
	StatusSuspended Status = "suspended"
)

// reasonStaticPause is the interrupt reason recorded for declared pauses.
const reasonStaticPause = "static pause"

// RunResult is the non-error outcome of one invocation.
//
// Callers distinguish three outcomes: "need human input" (StatusSuspended,
// interrupts populated), "done" (StatusCompleted), and "broke" (Run returned
// an error; the thread's last good snapshot is intact and the faulted step
// re-runs on the next resume).
type RunResult struct {
	// Status is StatusCompleted or StatusSuspended.
	Status Status

	// Snapshot is the final snapshot persisted by this invocation.
	Snapshot Snapshot
}

// Engine is the control loop: given a graph, a thread's current snapshot,
// and an optional new input, it runs steps in sequence, applies each step's
// patch to produce a new snapshot, persists it, and stops at the graph's
// end, at a declared pause, or at a step-raised interrupt.
//
// The Graph is passed explicitly into every invocation, so a single Engine
// serves any number of graphs and threads concurrently. Distinct threads are
// fully independent; two invocations racing on the same thread are
// serialized by the store's optimistic-concurrency check, and the loser gets
// an error wrapping store.ErrConflict.
//
// Example:
//
//	st := store.NewMemStore()
//	engine := graph.New(st, emit.NewLogEmitter(os.Stdout, false))
//
//	res, err := engine.Run(ctx, g, "review-42", graph.State{"input": "hello world"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Status == graph.StatusSuspended {
//	    // inspect res.Snapshot.Interrupts, fix state, resume with input nil
//	}
type Engine struct {
	store   store.Store
	emitter emit.Emitter
	opts    Options
}

// New creates a new Engine.
//
// Parameters:
//   - st: Snapshot persistence backend (required)
//   - emitter: Observability event receiver (optional, can be nil)
//   - opts: Functional options (WithMaxSteps, WithStepTimeout, WithMetrics)
func New(st store.Store, emitter emit.Emitter, opts ...Option) *Engine {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	return &Engine{
		store:   st,
		emitter: emitter,
		opts:    options,
	}
}

// Run executes the thread until completion, suspension, or fault.
//
// A nil input means resume: execution continues from the latest snapshot's
// first pending step, or from the edge after the last completed step when
// nothing is pending. A non-nil input is schema-validated and merged into
// state before the (re)run; this is how a paused step is "fixed" before
// resuming. A nil input on a thread with no history fails with
// ErrNoStateToResume.
//
// Exactly one snapshot is appended per executed step. No snapshot is
// appended for a faulted step, so the state is left at the last good
// snapshot and the step re-runs on the next invocation.
func (e *Engine) Run(ctx context.Context, g *Graph, threadID string, input State) (*RunResult, error) {
	return e.run(ctx, g, threadID, input, nil)
}

// run is the shared control loop behind Run and Stream. observe, when
// non-nil, receives every persisted snapshot in production order.
func (e *Engine) run(ctx context.Context, g *Graph, threadID string, input State, observe func(Snapshot)) (*RunResult, error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if g == nil {
		return nil, &EngineError{Message: "graph is required", Code: "MISSING_GRAPH"}
	}
	if threadID == "" {
		return nil, &EngineError{Message: "thread ID cannot be empty", Code: "MISSING_THREAD_ID"}
	}
	if input != nil {
		if err := g.validatePatch(input); err != nil {
			return nil, err
		}
	}

	// LOADING: fetch the latest snapshot, or initialize a fresh thread.
	latest, err := e.store.Latest(ctx, threadID)
	fresh := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		if input == nil {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrNoStateToResume)
		}
		fresh = true
		latest = Snapshot{
			ThreadID: threadID,
			Seq:      0,
			Source:   store.SourceEngine,
			State:    State{},
			Pending:  []string{g.Start()},
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	state, err := cloneState(latest.State)
	if err != nil {
		return nil, err
	}

	// touched records whether an external actor has intervened since the
	// last suspension: fresh input on this invocation, or an UpdateState
	// append since the engine last wrote. Declared pauses only yield to a
	// touched resume.
	touched := input != nil || latest.Source == store.SourceUpdate
	for k, v := range input {
		state[k] = v
	}

	pending := append([]string(nil), latest.Pending...)
	lastDone := latest.Step
	seq := latest.Seq

	// Nothing pending: route from the last completed step. If routing still
	// reaches the end marker the thread stays completed; an external edit
	// that changes a router's outcome reopens it.
	if len(pending) == 0 {
		if lastDone == "" {
			return &RunResult{Status: StatusCompleted, Snapshot: latest}, nil
		}
		next, err := g.nextSteps(lastDone, state)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if n != End {
				pending = append(pending, n)
			}
		}
		if len(pending) == 0 {
			return &RunResult{Status: StatusCompleted, Snapshot: latest}, nil
		}
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.RunStarted()
		defer e.opts.Metrics.RunFinished()
	}
	e.emit(emit.Event{ThreadID: threadID, Seq: seq, Msg: "run started"})

	// resumeTarget is true while pending[0] is still the step the loaded
	// snapshot was suspended at, as opposed to a step reached by routing
	// within this invocation.
	resumeTarget := !fresh
	stepCount := 0

	// RUNNING: execute pending steps in order.
	for {
		stepCount++
		if e.opts.MaxSteps > 0 && stepCount > e.opts.MaxSteps {
			return nil, &EngineError{
				Message: "thread exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		// Cancellation is cooperative and checked between steps only; a
		// step, once started, runs to completion or fault.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cur := pending[0]
		impl, ok := g.step(cur)
		if !ok {
			return nil, &EngineError{
				Message: "step not found during execution: " + cur,
				Code:    "STEP_NOT_FOUND",
			}
		}

		if g.PausesBefore(cur) {
			// A declared pause re-arms on every arrival and on every
			// untouched resume. It yields only when the suspension was
			// already recorded and the thread has been touched since.
			alreadySuspended := resumeTarget && hasBeforeInterrupt(latest, cur)
			if !alreadySuspended || !touched {
				seq++
				snap, err := e.makeSnapshot(threadID, seq, lastDone, state, pending,
					[]Interrupt{{Step: cur, Reason: reasonStaticPause, Phase: store.PhaseBefore}})
				if err != nil {
					return nil, err
				}
				if err := e.append(ctx, snap); err != nil {
					return nil, err
				}
				e.recordSuspension(store.PhaseBefore)
				e.emit(emit.Event{
					ThreadID: threadID,
					Seq:      seq,
					StepID:   cur,
					Msg:      "suspended",
					Meta:     map[string]interface{}{"reason": reasonStaticPause, "phase": string(store.PhaseBefore)},
				})
				notify(observe, snap)
				return &RunResult{Status: StatusSuspended, Snapshot: snap}, nil
			}
		}
		resumeTarget = false

		started := time.Now()
		result := e.executeStep(ctx, g, impl, cur, state)
		elapsed := time.Since(started)

		// Step fault: no snapshot is advanced; the last good snapshot stays
		// current and the step remains implicitly re-runnable.
		if result.Err != nil {
			e.recordStep(cur, "error", elapsed)
			e.emit(emit.Event{
				ThreadID: threadID,
				Seq:      seq,
				StepID:   cur,
				Msg:      "run failed",
				Meta:     map[string]interface{}{"error": result.Err.Error()},
			})
			return nil, &StepError{StepID: cur, Cause: result.Err}
		}

		// Step-raised interrupt: the step's partial result is discarded,
		// the step stays pending, and the reason is recorded.
		if result.Pause != nil {
			seq++
			snap, err := e.makeSnapshot(threadID, seq, lastDone, state, pending,
				[]Interrupt{{Step: cur, Reason: result.Pause.Reason, Phase: store.PhaseDuring}})
			if err != nil {
				return nil, err
			}
			if err := e.append(ctx, snap); err != nil {
				return nil, err
			}
			e.recordStep(cur, "interrupt", elapsed)
			e.recordSuspension(store.PhaseDuring)
			e.emit(emit.Event{
				ThreadID: threadID,
				Seq:      seq,
				StepID:   cur,
				Msg:      "interrupted",
				Meta:     map[string]interface{}{"reason": result.Pause.Reason, "phase": string(store.PhaseDuring)},
			})
			notify(observe, snap)
			return &RunResult{Status: StatusSuspended, Snapshot: snap}, nil
		}

		// Normal completion: merge the patch, pop the step, route onward.
		if result.Patch != nil {
			if err := g.validatePatch(result.Patch); err != nil {
				return nil, err
			}
			for k, v := range result.Patch {
				state[k] = v
			}
		}
		pending = pending[1:]

		next, err := g.nextSteps(cur, state)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if n != End {
				pending = append(pending, n)
			}
		}

		// A routed-into declared pause suspends immediately: its
		// before-interrupt rides on this step's completion snapshot, so
		// each step execution still produces exactly one snapshot.
		var interrupts []Interrupt
		suspendNext := len(pending) > 0 && g.PausesBefore(pending[0])
		if suspendNext {
			interrupts = []Interrupt{{Step: pending[0], Reason: reasonStaticPause, Phase: store.PhaseBefore}}
		}

		seq++
		snap, err := e.makeSnapshot(threadID, seq, cur, state, pending, interrupts)
		if err != nil {
			return nil, err
		}
		if err := e.append(ctx, snap); err != nil {
			return nil, err
		}
		e.recordStep(cur, "success", elapsed)
		e.emit(emit.Event{
			ThreadID: threadID,
			Seq:      seq,
			StepID:   cur,
			Msg:      "step completed",
			Meta: map[string]interface{}{
				"duration_ms": elapsed.Milliseconds(),
				"pending":     fmt.Sprintf("%v", pending),
			},
		})
		notify(observe, snap)
		lastDone = cur

		if len(pending) == 0 {
			e.emit(emit.Event{ThreadID: threadID, Seq: seq, Msg: "run completed"})
			return &RunResult{Status: StatusCompleted, Snapshot: snap}, nil
		}
		if suspendNext {
			e.recordSuspension(store.PhaseBefore)
			e.emit(emit.Event{
				ThreadID: threadID,
				Seq:      seq,
				StepID:   pending[0],
				Msg:      "suspended",
				Meta:     map[string]interface{}{"reason": reasonStaticPause, "phase": string(store.PhaseBefore)},
			})
			return &RunResult{Status: StatusSuspended, Snapshot: snap}, nil
		}
	}
}

// makeSnapshot assembles a snapshot with defensive copies of the working
// state and pending list.
func (e *Engine) makeSnapshot(threadID string, seq int64, step string, state State, pending []string, interrupts []Interrupt) (Snapshot, error) {
	stateCopy, err := cloneState(state)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ThreadID:   threadID,
		Seq:        seq,
		Step:       step,
		Source:     store.SourceEngine,
		State:      stateCopy,
		Pending:    append([]string(nil), pending...),
		Interrupts: interrupts,
	}, nil
}

// append persists a snapshot, translating an optimistic-concurrency loss
// into an error wrapping store.ErrConflict so the caller can reload and
// re-invoke.
func (e *Engine) append(ctx context.Context, snap Snapshot) error {
	if _, err := e.store.Append(ctx, snap); err != nil {
		if errors.Is(err, store.ErrConflict) {
			if e.opts.Metrics != nil {
				e.opts.Metrics.IncrementConflicts()
			}
			return fmt.Errorf("thread %s at seq %d: %w", snap.ThreadID, snap.Seq, err)
		}
		return &EngineError{
			Message: "failed to append snapshot: " + err.Error(),
			Code:    "STORE_ERROR",
		}
	}
	return nil
}

func (e *Engine) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine) recordStep(stepID, status string, d time.Duration) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordStep(stepID, status, d)
	}
}

func (e *Engine) recordSuspension(phase store.Phase) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordSuspension(string(phase))
	}
}

func notify(observe func(Snapshot), snap Snapshot) {
	if observe != nil {
		observe(snap)
	}
}

// hasBeforeInterrupt reports whether snap records a declared-pause
// suspension for the given step.
func hasBeforeInterrupt(snap Snapshot, stepID string) bool {
	for _, intr := range snap.Interrupts {
		if intr.Step == stepID && intr.Phase == store.PhaseBefore {
			return true
		}
	}
	return false
}

// cloneState deep-copies state, normalizing nil to an empty mapping.
func cloneState(s State) (State, error) {
	copied, err := s.Clone()
	if err != nil {
		return nil, err
	}
	if copied == nil {
		copied = State{}
	}
	return copied, nil
}
