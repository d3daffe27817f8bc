package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested thread ID has no snapshot history.
var ErrNotFound = errors.New("thread not found")

// ErrConflict is returned by Append when the snapshot's sequence number does
// not follow the thread's current latest sequence number. This is the
// optimistic-concurrency signal: another writer appended first, and the caller
// must reload the latest snapshot before retrying.
var ErrConflict = errors.New("concurrent write conflict")

// State is the shared workflow state: a mapping of declared field names to
// JSON-serializable values. The field set is fixed by the graph's schema;
// the store persists whatever mapping it is given and leaves schema
// enforcement to the engine.
type State map[string]any

// Clone returns a deep copy of the state via JSON round-trip.
//
// Values must be JSON-serializable (the same constraint the store itself
// imposes for persistence). A nil state clones to nil.
func (s State) Clone() (State, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}
	return copied, nil
}

// Phase describes when an interrupt was raised relative to its step.
type Phase string

const (
	// PhaseBefore marks a static pause: the engine suspended before the step
	// was invoked because the step is in the graph's pause-before set.
	PhaseBefore Phase = "before"

	// PhaseDuring marks a dynamic pause: the step itself returned a pause
	// signal from inside its own logic.
	PhaseDuring Phase = "during"
)

// Source identifies which writer appended a snapshot.
type Source string

const (
	// SourceEngine marks snapshots produced by the execution loop.
	SourceEngine Source = "engine"

	// SourceUpdate marks snapshots appended by an external state mutation
	// (UpdateState). The engine treats an update-sourced latest snapshot as
	// evidence that an operator has intervened since the last suspension.
	SourceUpdate Source = "update"
)

// Interrupt records why a thread is suspended at a step.
//
// An interrupt is not an error. It is captured by the engine and persisted in
// the snapshot so that an external actor can inspect the reason, fix the
// state, and resume.
type Interrupt struct {
	// Step is the name of the step that is suspended.
	Step string `json:"step"`

	// Reason is the human-readable explanation supplied by the pause.
	Reason string `json:"reason"`

	// Phase is PhaseBefore for declared pauses, PhaseDuring for pauses raised
	// by step logic.
	Phase Phase `json:"phase"`
}

// Snapshot is one immutable, versioned record in a thread's append-only
// history.
//
// Seq is strictly increasing and gap-free per thread: every engine step and
// every external mutation consumes exactly the next sequence number. The
// engine only ever reads the latest snapshot; earlier entries are retained
// for audit and replay.
type Snapshot struct {
	// ThreadID identifies the execution context this snapshot belongs to.
	ThreadID string `json:"thread_id"`

	// Seq is the per-thread sequence number, starting at 1.
	Seq int64 `json:"seq"`

	// Step is the name of the step whose completion produced this snapshot.
	// Empty for a thread's initial snapshot. Update-sourced snapshots carry
	// the step name forward from the snapshot they patched.
	Step string `json:"step"`

	// Source records whether the engine or an external mutation wrote this
	// snapshot.
	Source Source `json:"source"`

	// State is the full workflow state after this snapshot's write.
	State State `json:"state"`

	// Pending lists step names not yet successfully completed, in execution
	// order. A resume always starts at Pending[0].
	Pending []string `json:"pending"`

	// Interrupts holds the active suspension reasons, if any. Cleared when a
	// step completes normally.
	Interrupts []Interrupt `json:"interrupts"`
}

// Clone returns a deep copy of the snapshot so callers can hold it without
// aliasing store-internal data.
func (s Snapshot) Clone() (Snapshot, error) {
	out := s
	state, err := s.State.Clone()
	if err != nil {
		return Snapshot{}, err
	}
	out.State = state
	if s.Pending != nil {
		out.Pending = append([]string(nil), s.Pending...)
	}
	if s.Interrupts != nil {
		out.Interrupts = append([]Interrupt(nil), s.Interrupts...)
	}
	return out, nil
}

// Store is the append-only snapshot log keyed by thread ID.
//
// Implementations must guarantee:
//   - Append is atomic per thread and enforces the sequence check.
//   - Snapshots are never updated or deleted; corrections are new appends.
//   - Latest and History observe only fully committed snapshots.
//
// Backends provided in this package: MemStore (testing, single process),
// SQLiteStore (local persistence), MySQLStore (shared persistence).
type Store interface {
	// Append persists a new snapshot for snap.ThreadID.
	//
	// The caller sets snap.Seq to its assumed next sequence number
	// (latest+1, or 1 for a new thread). If the store's current latest does
	// not match, Append fails with ErrConflict and writes nothing; the
	// caller must reload and retry or abort.
	//
	// Returns the committed sequence number on success.
	Append(ctx context.Context, snap Snapshot) (int64, error)

	// Latest returns the most recent snapshot for the thread.
	// Returns ErrNotFound if the thread has no history.
	Latest(ctx context.Context, threadID string) (Snapshot, error)

	// History returns a forward cursor over the thread's snapshots in
	// sequence order. Each call produces an independent cursor, so history
	// reads are restartable. Returns ErrNotFound if the thread has no
	// history. The caller must Close the cursor.
	History(ctx context.Context, threadID string) (Cursor, error)
}

// Cursor iterates lazily over a thread's snapshot history in forward order.
type Cursor interface {
	// Next returns the next snapshot. ok is false when the history is
	// exhausted or an error occurred.
	Next(ctx context.Context) (snap Snapshot, ok bool, err error)

	// Close releases any resources held by the cursor.
	Close() error
}
