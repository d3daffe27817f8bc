package graph

import (
	"fmt"
	"time"
)

// End is the designated end marker. Edges and routers that target End
// terminate the thread: a completed snapshot is persisted and the run
// finishes with StatusCompleted.
const End = "__end__"

// Graph is an immutable description of steps and the transitions between
// them. It is resolved once by Builder.Build and is safe for unlimited
// concurrent reads; a single Graph is shared across all threads and engine
// invocations.
type Graph struct {
	name        string
	schema      map[string]struct{}
	fields      []string
	steps       map[string]Step
	start       string
	edges       map[string][]string // static edge targets, in declaration order
	routers     map[string]routerEdge
	pauseBefore map[string]struct{}
	timeouts    map[string]time.Duration
}

// routerEdge pairs a conditional routing function with its declared set of
// possible targets. The engine rejects router results outside this set.
type routerEdge struct {
	fn      Router
	targets map[string]struct{}
}

// Name returns the graph's name.
func (g *Graph) Name() string {
	return g.name
}

// Start returns the designated start step.
func (g *Graph) Start() string {
	return g.start
}

// Schema returns the declared state field names in declaration order.
func (g *Graph) Schema() []string {
	return append([]string(nil), g.fields...)
}

// PausesBefore reports whether execution must suspend immediately before the
// given step runs.
func (g *Graph) PausesBefore(stepID string) bool {
	_, ok := g.pauseBefore[stepID]
	return ok
}

// step returns the implementation registered under stepID.
func (g *Graph) step(stepID string) (Step, bool) {
	s, ok := g.steps[stepID]
	return s, ok
}

// stepTimeout returns the per-step timeout override, or zero if none is set.
func (g *Graph) stepTimeout(stepID string) time.Duration {
	return g.timeouts[stepID]
}

// nextSteps resolves routing for a completed step. If the step has a
// conditional router, the router is invoked with the current state and its
// result is checked against the declared targets; otherwise the static edge
// targets are returned in declaration order.
//
// A returned slice containing only End means the thread is complete.
func (g *Graph) nextSteps(from string, state State) ([]string, error) {
	if r, ok := g.routers[from]; ok {
		next := r.fn(state)
		if _, valid := r.targets[next]; !valid {
			return nil, &EngineError{
				Message: fmt.Sprintf("router for step %q returned undeclared target %q", from, next),
				Code:    "BAD_ROUTE",
			}
		}
		return []string{next}, nil
	}

	targets := g.edges[from]
	if len(targets) == 0 {
		return nil, &EngineError{
			Message: "no route from step: " + from,
			Code:    "NO_ROUTE",
		}
	}
	return append([]string(nil), targets...), nil
}

// validatePatch rejects patches that write fields outside the declared
// schema. Enforced for step patches, fresh run input, and external updates
// alike, before any write.
func (g *Graph) validatePatch(patch State) error {
	for field := range patch {
		if _, ok := g.schema[field]; !ok {
			return &SchemaError{Field: field}
		}
	}
	return nil
}

// Builder collects a graph definition for one-time validation.
//
// Builder methods record the definition without validating; Build performs
// all validation at once and returns a *ValidationError describing the first
// problem found.
//
// Example:
//
//	b := graph.NewBuilder("moderation", "input", "screened")
//	b.AddStep("intake", intakeStep)
//	b.AddStep("screen", screenStep)
//	b.AddStep("publish", publishStep)
//	b.StartAt("intake")
//	b.Connect("intake", "screen")
//	b.Connect("screen", "publish")
//	b.Connect("publish", graph.End)
//	b.PauseBefore("publish")
//	g, err := b.Build()
type Builder struct {
	name        string
	fields      []string
	steps       map[string]Step
	order       []string
	start       string
	edges       map[string][]string
	routers     map[string]routerEdge
	pauseBefore []string
	timeouts    map[string]time.Duration
	problems    []string
}

// NewBuilder creates a Builder for a graph with the given name and state
// schema. The field list fixes the state mapping's shape: engine code and
// external mutators may only ever write these fields.
func NewBuilder(name string, fields ...string) *Builder {
	b := &Builder{
		name:     name,
		fields:   fields,
		steps:    make(map[string]Step),
		edges:    make(map[string][]string),
		routers:  make(map[string]routerEdge),
		timeouts: make(map[string]time.Duration),
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			b.problems = append(b.problems, "schema field name cannot be empty")
			continue
		}
		if _, dup := seen[f]; dup {
			b.problems = append(b.problems, "duplicate schema field: "+f)
			continue
		}
		seen[f] = struct{}{}
	}
	return b
}

// AddStep registers a named step. Step IDs must be unique and must not
// collide with the End marker.
func (b *Builder) AddStep(stepID string, step Step) *Builder {
	switch {
	case stepID == "":
		b.problems = append(b.problems, "step ID cannot be empty")
	case stepID == End:
		b.problems = append(b.problems, "step ID cannot be the end marker")
	case step == nil:
		b.problems = append(b.problems, "step cannot be nil: "+stepID)
	default:
		if _, exists := b.steps[stepID]; exists {
			b.problems = append(b.problems, "duplicate step ID: "+stepID)
			return b
		}
		b.steps[stepID] = step
		b.order = append(b.order, stepID)
	}
	return b
}

// StartAt sets the entry point for thread execution.
func (b *Builder) StartAt(stepID string) *Builder {
	b.start = stepID
	return b
}

// Connect creates a static edge from one step to another (or to End).
// Calling Connect repeatedly with the same source declares a fan-out: all
// targets are recorded in pending and drained sequentially.
func (b *Builder) Connect(from, to string) *Builder {
	if from == "" || to == "" {
		b.problems = append(b.problems, "edge endpoints cannot be empty")
		return b
	}
	b.edges[from] = append(b.edges[from], to)
	return b
}

// Route attaches a conditional router to a step. The router's declared
// possible targets must all be valid step names (or End); a router result
// outside this set is a runtime routing fault.
//
// A step may have a router or static edges, not both.
func (b *Builder) Route(from string, r Router, targets ...string) *Builder {
	if from == "" {
		b.problems = append(b.problems, "router source cannot be empty")
		return b
	}
	if r == nil {
		b.problems = append(b.problems, "router for step "+from+" cannot be nil")
		return b
	}
	if len(targets) == 0 {
		b.problems = append(b.problems, "router for step "+from+" declares no targets")
		return b
	}
	if _, exists := b.routers[from]; exists {
		b.problems = append(b.problems, "duplicate router for step: "+from)
		return b
	}
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	b.routers[from] = routerEdge{fn: r, targets: set}
	return b
}

// PauseBefore declares steps that must always suspend execution immediately
// before they run, independent of step logic and state values.
func (b *Builder) PauseBefore(stepIDs ...string) *Builder {
	b.pauseBefore = append(b.pauseBefore, stepIDs...)
	return b
}

// SetTimeout sets a per-step timeout override. Zero means "use the engine's
// default". A timed-out step surfaces as an ordinary step fault.
func (b *Builder) SetTimeout(stepID string, d time.Duration) *Builder {
	b.timeouts[stepID] = d
	return b
}

// Build validates the collected definition and returns an immutable Graph.
//
// Returns a *ValidationError if:
//   - any Builder call recorded a problem (empty/duplicate names, nil steps)
//   - the start step is unset or undeclared
//   - an edge, router target, or pause declaration references an undeclared step
//   - a step declares both static edges and a router
//   - a reachable step has no outgoing edge or router
//   - there is no path from the start step to the End marker
func (b *Builder) Build() (*Graph, error) {
	if len(b.problems) > 0 {
		return nil, &ValidationError{Message: b.problems[0]}
	}
	if len(b.steps) == 0 {
		return nil, &ValidationError{Message: "graph has no steps"}
	}
	if b.start == "" {
		return nil, &ValidationError{Message: "start step not set (call StartAt)"}
	}
	if _, ok := b.steps[b.start]; !ok {
		return nil, &ValidationError{Message: "start step does not exist: " + b.start}
	}

	valid := func(target string) bool {
		if target == End {
			return true
		}
		_, ok := b.steps[target]
		return ok
	}

	for from, targets := range b.edges {
		if _, ok := b.steps[from]; !ok {
			return nil, &ValidationError{Message: "edge from undeclared step: " + from}
		}
		if _, hasRouter := b.routers[from]; hasRouter {
			return nil, &ValidationError{Message: "step has both static edges and a router: " + from}
		}
		for _, to := range targets {
			if !valid(to) {
				return nil, &ValidationError{Message: fmt.Sprintf("edge %s -> %s references undeclared step", from, to)}
			}
		}
	}
	for from, r := range b.routers {
		if _, ok := b.steps[from]; !ok {
			return nil, &ValidationError{Message: "router on undeclared step: " + from}
		}
		for target := range r.targets {
			if !valid(target) {
				return nil, &ValidationError{Message: fmt.Sprintf("router for %s declares undeclared target %s", from, target)}
			}
		}
	}

	for stepID := range b.timeouts {
		if _, ok := b.steps[stepID]; !ok {
			return nil, &ValidationError{Message: "timeout set for undeclared step: " + stepID}
		}
	}

	pauseSet := make(map[string]struct{}, len(b.pauseBefore))
	for _, stepID := range b.pauseBefore {
		if _, ok := b.steps[stepID]; !ok {
			return nil, &ValidationError{Message: "pause declared for undeclared step: " + stepID}
		}
		pauseSet[stepID] = struct{}{}
	}

	// Reachability walk from the start over static edges and declared router
	// targets. End must be reachable, and no reachable step may dead-end.
	reachedEnd := false
	visited := map[string]struct{}{b.start: {}}
	queue := []string{b.start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var targets []string
		if r, hasRouter := b.routers[cur]; hasRouter {
			for t := range r.targets {
				targets = append(targets, t)
			}
		} else {
			targets = b.edges[cur]
		}
		if len(targets) == 0 {
			return nil, &ValidationError{Message: "step has no outgoing edge or router: " + cur}
		}
		for _, t := range targets {
			if t == End {
				reachedEnd = true
				continue
			}
			if _, seen := visited[t]; !seen {
				visited[t] = struct{}{}
				queue = append(queue, t)
			}
		}
	}
	if !reachedEnd {
		return nil, &ValidationError{Message: "no path from start to end"}
	}

	schema := make(map[string]struct{}, len(b.fields))
	for _, f := range b.fields {
		schema[f] = struct{}{}
	}

	edges := make(map[string][]string, len(b.edges))
	for from, targets := range b.edges {
		edges[from] = append([]string(nil), targets...)
	}
	routers := make(map[string]routerEdge, len(b.routers))
	for from, r := range b.routers {
		routers[from] = r
	}
	steps := make(map[string]Step, len(b.steps))
	for id, s := range b.steps {
		steps[id] = s
	}
	timeouts := make(map[string]time.Duration, len(b.timeouts))
	for id, d := range b.timeouts {
		timeouts[id] = d
	}

	return &Graph{
		name:        b.name,
		schema:      schema,
		fields:      append([]string(nil), b.fields...),
		steps:       steps,
		start:       b.start,
		edges:       edges,
		routers:     routers,
		pauseBefore: pauseSet,
		timeouts:    timeouts,
	}, nil
}
