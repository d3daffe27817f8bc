package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// ThreadState is the inspector's view of a thread: the latest snapshot's
// state plus what is pending and why.
type ThreadState struct {
	// ThreadID identifies the thread.
	ThreadID string

	// Seq is the latest snapshot's sequence number.
	Seq int64

	// State is the latest full workflow state.
	State State

	// Pending lists step names not yet successfully completed, in order.
	Pending []string

	// Interrupts holds the active suspension reasons, if any.
	Interrupts []Interrupt
}

// GetState returns the thread's current state, pending steps, and
// interrupts. It is a pure read of the latest snapshot; nothing runs and
// nothing is written.
//
// Returns ErrThreadNotFound for a thread with no history.
func (e *Engine) GetState(ctx context.Context, threadID string) (*ThreadState, error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	latest, err := e.store.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
		}
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	return &ThreadState{
		ThreadID:   threadID,
		Seq:        latest.Seq,
		State:      latest.State,
		Pending:    latest.Pending,
		Interrupts: latest.Interrupts,
	}, nil
}

// UpdateState appends an externally supplied state patch as a new snapshot
// without running any step.
//
// The patch is validated against the graph's schema and merged field-wise
// over the latest state. The new snapshot carries the SAME pending steps and
// interrupts as before: a mutation does not itself clear a pause; only a
// subsequent engine run past the paused step does. The engine does, however,
// treat the update as evidence that an operator intervened, which is what
// lets a declared pause yield on the next resume.
//
// Returns the new sequence number, ErrThreadNotFound for an unknown thread,
// a *SchemaError for an undeclared field, or an error wrapping
// store.ErrConflict if a racing writer appended first (reload and retry).
func (e *Engine) UpdateState(ctx context.Context, g *Graph, threadID string, patch State) (int64, error) {
	if e.store == nil {
		return 0, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if g == nil {
		return 0, &EngineError{Message: "graph is required", Code: "MISSING_GRAPH"}
	}
	if err := g.validatePatch(patch); err != nil {
		return 0, err
	}

	latest, err := e.store.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
		}
		return 0, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	state, err := cloneState(latest.State)
	if err != nil {
		return 0, err
	}
	for k, v := range patch {
		state[k] = v
	}

	snap := Snapshot{
		ThreadID:   threadID,
		Seq:        latest.Seq + 1,
		Step:       latest.Step,
		Source:     store.SourceUpdate,
		State:      state,
		Pending:    append([]string(nil), latest.Pending...),
		Interrupts: append([]Interrupt(nil), latest.Interrupts...),
	}
	if err := e.append(ctx, snap); err != nil {
		return 0, err
	}

	e.emit(emit.Event{
		ThreadID: threadID,
		Seq:      snap.Seq,
		Msg:      "state updated",
		Meta:     map[string]interface{}{"fields": patchFields(patch)},
	})
	return snap.Seq, nil
}

// History returns a forward cursor over the thread's full snapshot history.
// Each call produces an independent, restartable cursor. The caller must
// Close it.
func (e *Engine) History(ctx context.Context, threadID string) (store.Cursor, error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	cursor, err := e.store.History(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
		}
		return nil, err
	}
	return cursor, nil
}

func patchFields(patch State) []string {
	fields := make([]string, 0, len(patch))
	for k := range patch {
		fields = append(fields, k)
	}
	return fields
}
