package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps each thread's snapshot history in a slice guarded by a RWMutex.
// Designed for:
//   - Testing and development
//   - Single-process workflows
//   - Short-lived threads where persistence isn't required
//
// Snapshots are deep-copied on the way in and out, so callers can never
// mutate store-internal data.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with thread history (no retention policy)
//
// For persistence use SQLiteStore or MySQLStore.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string][]Snapshot // threadID -> snapshots ordered by Seq
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore()
//	engine := graph.New(st, emit.NewNullEmitter())
func NewMemStore() *MemStore {
	return &MemStore{
		threads: make(map[string][]Snapshot),
	}
}

// Append persists a snapshot if its Seq is exactly the thread's next sequence
// number. The check and the append happen under one lock, so exactly one of
// two racing writers wins a contested sequence number; the loser observes
// ErrConflict.
func (m *MemStore) Append(_ context.Context, snap Snapshot) (int64, error) {
	copied, err := snap.Clone()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.threads[snap.ThreadID]
	var latest int64
	if len(history) > 0 {
		latest = history[len(history)-1].Seq
	}
	if snap.Seq != latest+1 {
		return 0, ErrConflict
	}

	m.threads[snap.ThreadID] = append(history, copied)
	return copied.Seq, nil
}

// Latest returns a copy of the thread's most recent snapshot.
func (m *MemStore) Latest(_ context.Context, threadID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, exists := m.threads[threadID]
	if !exists || len(history) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return history[len(history)-1].Clone()
}

// History returns a cursor over a stable copy of the thread's history taken
// at call time. Appends after the cursor is created are not observed by it.
func (m *MemStore) History(_ context.Context, threadID string) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, exists := m.threads[threadID]
	if !exists || len(history) == 0 {
		return nil, ErrNotFound
	}

	copies := make([]Snapshot, 0, len(history))
	for _, snap := range history {
		copied, err := snap.Clone()
		if err != nil {
			return nil, err
		}
		copies = append(copies, copied)
	}
	return &sliceCursor{snaps: copies}, nil
}

// sliceCursor iterates over an in-memory snapshot slice.
type sliceCursor struct {
	snaps []Snapshot
	pos   int
}

func (c *sliceCursor) Next(_ context.Context) (Snapshot, bool, error) {
	if c.pos >= len(c.snaps) {
		return Snapshot{}, false, nil
	}
	snap := c.snaps[c.pos]
	c.pos++
	return snap, true, nil
}

func (c *sliceCursor) Close() error {
	c.snaps = nil
	return nil
}
