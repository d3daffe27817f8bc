package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// patchStep returns a step that completes with a fixed patch.
func patchStep(patch State) Step {
	return StepFunc(func(ctx context.Context, state State) StepResult {
		return Complete(patch)
	})
}

// collectHistory drains a thread's history into a slice.
func collectHistory(t *testing.T, st store.Store, threadID string) []Snapshot {
	t.Helper()
	cursor, err := st.History(context.Background(), threadID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	defer func() { _ = cursor.Close() }()

	var snaps []Snapshot
	for {
		snap, ok, err := cursor.Next(context.Background())
		if err != nil {
			t.Fatalf("cursor.Next failed: %v", err)
		}
		if !ok {
			return snaps
		}
		snaps = append(snaps, snap)
	}
}

func TestEngineRunLinear(t *testing.T) {
	g, err := NewBuilder("pipeline", "input", "a_done", "b_done").
		AddStep("a", patchStep(State{"a_done": true})).
		AddStep("b", patchStep(State{"b_done": true})).
		StartAt("a").
		Connect("a", "b").
		Connect("b", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())

	res, err := engine.Run(context.Background(), g, "t1", State{"input": "hello"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %v, want completed", res.Status)
	}
	if res.Snapshot.Seq != 2 {
		t.Errorf("final Seq = %d, want 2", res.Snapshot.Seq)
	}
	if len(res.Snapshot.Pending) != 0 {
		t.Errorf("final Pending = %v, want empty", res.Snapshot.Pending)
	}
	for _, field := range []string{"a_done", "b_done"} {
		if res.Snapshot.State[field] != true {
			t.Errorf("final state missing %s: %v", field, res.Snapshot.State)
		}
	}

	// One snapshot per executed step, in order.
	snaps := collectHistory(t, st, "t1")
	if len(snaps) != 2 {
		t.Fatalf("history length = %d, want 2", len(snaps))
	}
	if snaps[0].Step != "a" || snaps[0].Seq != 1 {
		t.Errorf("snapshot 0 = {Step: %s, Seq: %d}", snaps[0].Step, snaps[0].Seq)
	}
	if snaps[1].Step != "b" || snaps[1].Seq != 2 {
		t.Errorf("snapshot 1 = {Step: %s, Seq: %d}", snaps[1].Step, snaps[1].Seq)
	}
	if snaps[0].State["input"] != "hello" {
		t.Errorf("input not merged before first step: %v", snaps[0].State)
	}
	if _, present := snaps[0].State["b_done"]; present {
		t.Error("snapshot 0 already contains b's patch")
	}
}

func TestEngineDynamicPause(t *testing.T) {
	// screen pauses until state["clean"] is true.
	screen := StepFunc(func(ctx context.Context, state State) StepResult {
		if clean, _ := state["clean"].(bool); !clean {
			return Pause("content needs review")
		}
		return Complete(State{"screened": true})
	})

	g, err := NewBuilder("moderation", "input", "clean", "screened", "published").
		AddStep("intake", patchStep(State{"input": "raw"})).
		AddStep("screen", screen).
		AddStep("publish", patchStep(State{"published": true})).
		StartAt("intake").
		Connect("intake", "screen").
		Connect("screen", "publish").
		Connect("publish", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())
	ctx := context.Background()

	t.Run("step pause suspends with during interrupt", func(t *testing.T) {
		res, err := engine.Run(ctx, g, "t1", State{"input": "start"})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Status != StatusSuspended {
			t.Fatalf("Status = %v, want suspended", res.Status)
		}
		if len(res.Snapshot.Interrupts) != 1 {
			t.Fatalf("Interrupts = %v", res.Snapshot.Interrupts)
		}
		intr := res.Snapshot.Interrupts[0]
		if intr.Step != "screen" || intr.Reason != "content needs review" || intr.Phase != store.PhaseDuring {
			t.Errorf("interrupt = %+v", intr)
		}
		// The paused step stays pending and its partial result is discarded.
		if len(res.Snapshot.Pending) == 0 || res.Snapshot.Pending[0] != "screen" {
			t.Errorf("Pending = %v, want [screen ...]", res.Snapshot.Pending)
		}
		if _, present := res.Snapshot.State["screened"]; present {
			t.Error("paused step's patch must not be applied")
		}
	})

	t.Run("untouched resume re-pauses deterministically", func(t *testing.T) {
		before := len(collectHistory(t, st, "t1"))
		res, err := engine.Run(ctx, g, "t1", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Status != StatusSuspended {
			t.Fatalf("Status = %v, want suspended", res.Status)
		}
		if res.Snapshot.Interrupts[0].Reason != "content needs review" {
			t.Errorf("reason changed across resume: %+v", res.Snapshot.Interrupts)
		}
		after := len(collectHistory(t, st, "t1"))
		if after != before+1 {
			t.Errorf("history grew by %d, want 1", after-before)
		}
	})

	t.Run("resume with input re-runs and completes", func(t *testing.T) {
		res, err := engine.Run(ctx, g, "t1", State{"clean": true})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Status != StatusCompleted {
			t.Fatalf("Status = %v, want completed", res.Status)
		}
		if res.Snapshot.State["screened"] != true || res.Snapshot.State["published"] != true {
			t.Errorf("final state = %v", res.Snapshot.State)
		}
		if len(res.Snapshot.Interrupts) != 0 {
			t.Errorf("completed snapshot carries interrupts: %v", res.Snapshot.Interrupts)
		}
	})
}

func TestEngineStaticPause(t *testing.T) {
	buildGraph := func(t *testing.T) *Graph {
		t.Helper()
		g, err := NewBuilder("approval", "draft", "approved", "published").
			AddStep("draft", patchStep(State{"draft": "v1"})).
			AddStep("publish", patchStep(State{"published": true})).
			StartAt("draft").
			Connect("draft", "publish").
			Connect("publish", End).
			PauseBefore("publish").
			Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return g
	}

	t.Run("routing into a declared pause suspends immediately", func(t *testing.T) {
		g := buildGraph(t)
		st := store.NewMemStore()
		engine := New(st, emit.NewNullEmitter())

		res, err := engine.Run(context.Background(), g, "t1", State{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Status != StatusSuspended {
			t.Fatalf("Status = %v, want suspended", res.Status)
		}
		// The before-interrupt rides on the completing step's snapshot, so
		// one step execution still means one snapshot.
		if res.Snapshot.Seq != 1 || res.Snapshot.Step != "draft" {
			t.Errorf("snapshot = {Step: %s, Seq: %d}", res.Snapshot.Step, res.Snapshot.Seq)
		}
		intr := res.Snapshot.Interrupts
		if len(intr) != 1 || intr[0].Step != "publish" || intr[0].Phase != store.PhaseBefore {
			t.Errorf("interrupts = %+v", intr)
		}
		if len(res.Snapshot.Pending) != 1 || res.Snapshot.Pending[0] != "publish" {
			t.Errorf("Pending = %v", res.Snapshot.Pending)
		}
	})

	t.Run("untouched resume stays suspended", func(t *testing.T) {
		g := buildGraph(t)
		st := store.NewMemStore()
		engine := New(st, emit.NewNullEmitter())
		ctx := context.Background()

		if _, err := engine.Run(ctx, g, "t1", State{}); err != nil {
			t.Fatalf("initial run failed: %v", err)
		}

		res, err := engine.Run(ctx, g, "t1", nil)
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		if res.Status != StatusSuspended {
			t.Errorf("Status = %v, want suspended", res.Status)
		}
		if res.Snapshot.State["published"] != nil {
			t.Error("publish must not run on an untouched resume")
		}
	})

	t.Run("resume with input passes the pause", func(t *testing.T) {
		g := buildGraph(t)
		st := store.NewMemStore()
		engine := New(st, emit.NewNullEmitter())
		ctx := context.Background()

		if _, err := engine.Run(ctx, g, "t1", State{}); err != nil {
			t.Fatalf("initial run failed: %v", err)
		}

		res, err := engine.Run(ctx, g, "t1", State{"approved": true})
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		if res.Status != StatusCompleted {
			t.Fatalf("Status = %v, want completed", res.Status)
		}
		if res.Snapshot.State["published"] != true {
			t.Errorf("final state = %v", res.Snapshot.State)
		}
	})

	t.Run("update then resume passes the pause", func(t *testing.T) {
		g := buildGraph(t)
		st := store.NewMemStore()
		engine := New(st, emit.NewNullEmitter())
		ctx := context.Background()

		if _, err := engine.Run(ctx, g, "t1", State{}); err != nil {
			t.Fatalf("initial run failed: %v", err)
		}
		if _, err := engine.UpdateState(ctx, g, "t1", State{"approved": true}); err != nil {
			t.Fatalf("UpdateState failed: %v", err)
		}

		res, err := engine.Run(ctx, g, "t1", nil)
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		if res.Status != StatusCompleted {
			t.Fatalf("Status = %v, want completed", res.Status)
		}
		if res.Snapshot.State["approved"] != true || res.Snapshot.State["published"] != true {
			t.Errorf("final state = %v", res.Snapshot.State)
		}
	})
}

func TestEngineStepFault(t *testing.T) {
	var failNext = true
	flaky := StepFunc(func(ctx context.Context, state State) StepResult {
		if failNext {
			return Fail(errors.New("downstream unavailable"))
		}
		return Complete(State{"b_done": true})
	})

	g, err := NewBuilder("g", "a_done", "b_done").
		AddStep("a", patchStep(State{"a_done": true})).
		AddStep("b", flaky).
		StartAt("a").
		Connect("a", "b").
		Connect("b", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())
	ctx := context.Background()

	_, err = engine.Run(ctx, g, "t1", State{})
	var serr *StepError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StepError, got %T: %v", err, err)
	}
	if serr.StepID != "b" {
		t.Errorf("StepID = %q, want b", serr.StepID)
	}

	// The fault persisted nothing: the thread sits at a's snapshot with b
	// still pending.
	snaps := collectHistory(t, st, "t1")
	if len(snaps) != 1 || snaps[0].Step != "a" {
		t.Fatalf("history = %+v, want only a's snapshot", snaps)
	}
	if len(snaps[0].Pending) != 1 || snaps[0].Pending[0] != "b" {
		t.Errorf("Pending = %v, want [b]", snaps[0].Pending)
	}

	// The failed step re-runs on the next invocation.
	failNext = false
	res, err := engine.Run(ctx, g, "t1", nil)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Snapshot.State["b_done"] != true {
		t.Errorf("retry result = %+v", res)
	}
}

func TestEngineRunValidation(t *testing.T) {
	g, err := NewBuilder("g", "input").
		AddStep("a", noop).StartAt("a").Connect("a", End).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine := New(store.NewMemStore(), emit.NewNullEmitter())
	ctx := context.Background()

	t.Run("nil input on unknown thread", func(t *testing.T) {
		_, err := engine.Run(ctx, g, "ghost", nil)
		if !errors.Is(err, ErrNoStateToResume) {
			t.Errorf("expected ErrNoStateToResume, got %v", err)
		}
	})

	t.Run("undeclared input field", func(t *testing.T) {
		_, err := engine.Run(ctx, g, "t1", State{"bogus": 1})
		var serr *SchemaError
		if !errors.As(err, &serr) {
			t.Fatalf("expected *SchemaError, got %v", err)
		}
		// Nothing was persisted.
		if _, err := engine.GetState(ctx, "t1"); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("rejected input must not create the thread: %v", err)
		}
	})

	t.Run("empty thread ID", func(t *testing.T) {
		_, err := engine.Run(ctx, g, "", State{})
		var eerr *EngineError
		if !errors.As(err, &eerr) || eerr.Code != "MISSING_THREAD_ID" {
			t.Errorf("expected MISSING_THREAD_ID, got %v", err)
		}
	})

	t.Run("nil graph", func(t *testing.T) {
		_, err := engine.Run(ctx, nil, "t1", State{})
		var eerr *EngineError
		if !errors.As(err, &eerr) || eerr.Code != "MISSING_GRAPH" {
			t.Errorf("expected MISSING_GRAPH, got %v", err)
		}
	})
}

func TestEngineMaxSteps(t *testing.T) {
	// A router that never reaches End.
	g, err := NewBuilder("g", "n").
		AddStep("loop", patchStep(nil)).
		StartAt("loop").
		Route("loop", func(State) string { return "loop" }, "loop", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	engine := New(store.NewMemStore(), emit.NewNullEmitter(), WithMaxSteps(3))
	_, err = engine.Run(context.Background(), g, "t1", State{})
	var eerr *EngineError
	if !errors.As(err, &eerr) || eerr.Code != "MAX_STEPS_EXCEEDED" {
		t.Fatalf("expected MAX_STEPS_EXCEEDED, got %v", err)
	}
}

func TestEngineCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g, err := NewBuilder("g", "a_done").
		AddStep("a", StepFunc(func(ctx context.Context, state State) StepResult {
			cancel() // cancel mid-run; the engine notices before step b
			return Complete(State{"a_done": true})
		})).
		AddStep("b", patchStep(nil)).
		StartAt("a").
		Connect("a", "b").
		Connect("b", End).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())

	_, err = engine.Run(ctx, g, "t1", State{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// a's snapshot is durable; b never ran.
	snaps := collectHistory(t, st, "t1")
	if len(snaps) != 1 || snaps[0].Step != "a" {
		t.Errorf("history = %+v", snaps)
	}
}

func TestEngineResumeCompletedThread(t *testing.T) {
	g, err := NewBuilder("g", "done").
		AddStep("a", patchStep(State{"done": true})).
		StartAt("a").Connect("a", End).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())
	ctx := context.Background()

	if _, err := engine.Run(ctx, g, "t1", State{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	res, err := engine.Run(ctx, g, "t1", nil)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %v, want completed", res.Status)
	}
	if got := len(collectHistory(t, st, "t1")); got != 1 {
		t.Errorf("resume of a completed thread appended snapshots: history = %d", got)
	}
}

func TestEngineAppendConflict(t *testing.T) {
	st := store.NewMemStore()
	engine := New(st, emit.NewNullEmitter())
	ctx := context.Background()

	// The step sneaks a racing write onto the same thread, so the engine's
	// own append loses the optimistic-concurrency check.
	g, err := NewBuilder("g", "x").
		AddStep("a", StepFunc(func(ctx context.Context, state State) StepResult {
			latest, err := st.Latest(ctx, "t1")
			seq := int64(0)
			if err == nil {
				seq = latest.Seq
			}
			_, err = st.Append(ctx, Snapshot{
				ThreadID: "t1",
				Seq:      seq + 1,
				Step:     "racer",
				Source:   store.SourceUpdate,
				State:    State{},
			})
			if err != nil {
				return Fail(err)
			}
			return Complete(nil)
		})).
		StartAt("a").Connect("a", End).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = engine.Run(ctx, g, "t1", State{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	g, err := NewBuilder("g", "done").
		AddStep("a", patchStep(State{"done": true})).
		StartAt("a").Connect("a", End).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	buf := emit.NewBufferedEmitter()
	engine := New(store.NewMemStore(), buf)

	if _, err := engine.Run(context.Background(), g, "t1", State{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := buf.GetHistory("t1")
	var msgs []string
	for _, ev := range events {
		msgs = append(msgs, ev.Msg)
	}
	want := []string{"run started", "step completed", "run completed"}
	if fmt.Sprintf("%v", msgs) != fmt.Sprintf("%v", want) {
		t.Errorf("events = %v, want %v", msgs, want)
	}
}
