package graph

import "context"

// Stream is a lazy, finite sequence of snapshots produced by one engine
// invocation, surfaced in the exact order the engine persists them: one per
// completed step plus a final one at suspension or completion.
//
// A Stream is not restartable: each invocation produces its own sequence.
// A caller wanting the full thread history uses Engine.History instead.
//
// Example:
//
//	s := engine.Stream(ctx, g, "review-42", graph.State{"input": "hello world"})
//	for snap := range s.Snapshots() {
//	    fmt.Printf("seq=%d step=%s pending=%v\n", snap.Seq, snap.Step, snap.Pending)
//	}
//	res, err := s.Result()
type Stream struct {
	ch   chan Snapshot
	done chan struct{}
	res  *RunResult
	err  error
}

// Stream executes the thread like Run, but surfaces each intermediate
// snapshot on a channel as it is produced. The channel is closed when the
// invocation reaches a terminal state; Result then reports the outcome.
//
// The caller must drain Snapshots (or abandon it with a cancelled context);
// execution advances only as fast as the consumer reads.
func (e *Engine) Stream(ctx context.Context, g *Graph, threadID string, input State) *Stream {
	s := &Stream{
		ch:   make(chan Snapshot),
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.ch)
		defer close(s.done)
		s.res, s.err = e.run(ctx, g, threadID, input, func(snap Snapshot) {
			select {
			case s.ch <- snap:
			case <-ctx.Done():
			}
		})
	}()

	return s
}

// Snapshots returns the channel of intermediate snapshots. It is closed
// when the invocation finishes.
func (s *Stream) Snapshots() <-chan Snapshot {
	return s.ch
}

// Result blocks until the invocation finishes and returns its outcome,
// with the same semantics as Run.
func (s *Stream) Result() (*RunResult, error) {
	<-s.done
	return s.res, s.err
}
