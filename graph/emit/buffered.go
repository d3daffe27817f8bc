package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// execution history analysis. Events are organized by threadID for
// efficient retrieval and filtering.
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Post-execution analysis of a suspended thread
//
// Warning: This emitter stores all events in memory. For long-lived
// deployments with high event volume, clear threads periodically or use a
// persistent backend.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine := graph.New(st, emitter)
//
//	_, _ = engine.Run(ctx, g, "review-42", input)
//
//	all := emitter.GetHistory("review-42")
//	pauses := emitter.GetHistoryWithFilter("review-42", emit.HistoryFilter{Msg: "interrupted"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter specifies criteria for filtering captured events.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
type HistoryFilter struct {
	StepID string // Filter by step ID (empty = no filter)
	Msg    string // Filter by message (empty = no filter)
	MinSeq *int64 // Minimum sequence number (nil = no filter)
	MaxSeq *int64 // Maximum sequence number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and provides
// query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// GetHistory retrieves all events for a specific thread.
//
// Returns events in the order they were emitted, or an empty slice if no
// events exist for the given threadID. The returned slice is a copy.
func (b *BufferedEmitter) GetHistory(threadID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[threadID]
	if events == nil {
		return []Event{}
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific thread.
//
// Applies the provided filter criteria to select matching events. All
// conditions must match (AND logic). Returns an empty slice if nothing
// matches.
func (b *BufferedEmitter) GetHistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[threadID]
	if events == nil {
		return []Event{}
	}

	if filter.StepID == "" && filter.Msg == "" && filter.MinSeq == nil && filter.MaxSeq == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.StepID != "" && event.StepID != filter.StepID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinSeq != nil && event.Seq < *filter.MinSeq {
		return false
	}
	if filter.MaxSeq != nil && event.Seq > *filter.MaxSeq {
		return false
	}
	return true
}

// Clear removes stored events.
//
// If threadID is non-empty, clears only events for that thread.
// If threadID is empty, clears all stored events across all threads.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, threadID)
	}
}
