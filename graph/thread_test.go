package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

func pausedThreadFixture(t *testing.T) (*Engine, *Graph, *store.MemStore) {
	t.Helper()

	pauseOnce := StepFunc(func(ctx context.Context, state State) StepResult {
		if ok, _ := state["approved"].(bool); !ok {
			return Pause("awaiting approval")
		}
		return Complete(State{"reviewed": true})
	})

	g, err := NewBuilder("review", "comment", "approved", "reviewed").
		AddStep("intake", patchStep(State{"comment": "draft"})).
		AddStep("review", pauseOnce).
		StartAt("intake").
		Connect("intake", "review").
		Connect("review", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())

	res, err := engine.Run(context.Background(), g, "t1", State{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusSuspended {
		t.Fatalf("fixture expected suspended thread, got %v", res.Status)
	}
	return engine, g, st
}

func TestGetState(t *testing.T) {
	engine, _, _ := pausedThreadFixture(t)
	ctx := context.Background()

	ts, err := engine.GetState(ctx, "t1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if ts.ThreadID != "t1" {
		t.Errorf("ThreadID = %q", ts.ThreadID)
	}
	if ts.Seq != 2 {
		t.Errorf("Seq = %d, want 2", ts.Seq)
	}
	if ts.State["comment"] != "draft" {
		t.Errorf("State = %v", ts.State)
	}
	if len(ts.Pending) != 1 || ts.Pending[0] != "review" {
		t.Errorf("Pending = %v", ts.Pending)
	}
	if len(ts.Interrupts) != 1 || ts.Interrupts[0].Reason != "awaiting approval" {
		t.Errorf("Interrupts = %+v", ts.Interrupts)
	}

	t.Run("unknown thread", func(t *testing.T) {
		_, err := engine.GetState(ctx, "ghost")
		if !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})
}

func TestUpdateState(t *testing.T) {
	t.Run("appends update snapshot preserving pending and interrupts", func(t *testing.T) {
		engine, g, st := pausedThreadFixture(t)
		ctx := context.Background()

		seq, err := engine.UpdateState(ctx, g, "t1", State{"approved": true})
		if err != nil {
			t.Fatalf("UpdateState failed: %v", err)
		}
		if seq != 3 {
			t.Errorf("seq = %d, want 3", seq)
		}

		latest, err := st.Latest(ctx, "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if latest.Source != store.SourceUpdate {
			t.Errorf("Source = %v, want update", latest.Source)
		}
		if latest.State["approved"] != true || latest.State["comment"] != "draft" {
			t.Errorf("State = %v", latest.State)
		}
		// The mutation does not itself clear the pause.
		if len(latest.Pending) != 1 || latest.Pending[0] != "review" {
			t.Errorf("Pending = %v", latest.Pending)
		}
		if len(latest.Interrupts) != 1 {
			t.Errorf("Interrupts = %+v", latest.Interrupts)
		}
	})

	t.Run("resume after update completes the thread", func(t *testing.T) {
		engine, g, _ := pausedThreadFixture(t)
		ctx := context.Background()

		if _, err := engine.UpdateState(ctx, g, "t1", State{"approved": true}); err != nil {
			t.Fatalf("UpdateState failed: %v", err)
		}
		res, err := engine.Run(ctx, g, "t1", nil)
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		if res.Status != StatusCompleted || res.Snapshot.State["reviewed"] != true {
			t.Errorf("resume result = %+v", res)
		}
	})

	t.Run("rejects undeclared fields", func(t *testing.T) {
		engine, g, st := pausedThreadFixture(t)
		before := len(collectHistory(t, st, "t1"))

		_, err := engine.UpdateState(context.Background(), g, "t1", State{"bogus": 1})
		var serr *SchemaError
		if !errors.As(err, &serr) {
			t.Fatalf("expected *SchemaError, got %v", err)
		}
		if after := len(collectHistory(t, st, "t1")); after != before {
			t.Error("rejected update must not append")
		}
	})

	t.Run("unknown thread", func(t *testing.T) {
		engine, g, _ := pausedThreadFixture(t)
		_, err := engine.UpdateState(context.Background(), g, "ghost", State{"approved": true})
		if !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})
}

func TestEngineHistory(t *testing.T) {
	engine, _, _ := pausedThreadFixture(t)
	ctx := context.Background()

	cursor, err := engine.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	defer func() { _ = cursor.Close() }()

	var seqs []int64
	for {
		snap, ok, err := cursor.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		seqs = append(seqs, snap.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("seqs = %v, want [1 2]", seqs)
	}

	t.Run("unknown thread", func(t *testing.T) {
		_, err := engine.History(ctx, "ghost")
		if !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})
}
