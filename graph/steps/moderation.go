// Package steps provides reusable workflow steps built on the graph
// package: LLM-backed content screening and webhook calls.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
)

const moderationSystemPrompt = `You are a content moderation filter. ` +
	`Decide whether the user-provided text is acceptable for publication. ` +
	`Respond with exactly one line: "OK" if the text is acceptable, or ` +
	`"FLAG: <short reason>" if it should be reviewed by a human.`

// Moderation is a step that screens a state field through an LLM and
// pauses the thread when the content is flagged.
//
// The step reads Field from the state, sends it to the model, and
// interprets the response:
//   - "OK" completes the step with {ResultField: "ok"}
//   - "FLAG: <reason>" pauses the thread with that reason, leaving the
//     step pending so a human can inspect, amend state, and resume
//
// After a human clears the flagged content (for example by overwriting
// Field via UpdateState), resuming re-runs the step against the new
// state.
//
// Example usage:
//
//	screen := steps.NewModeration(chatModel, "comment", "moderation")
//	g, err := graph.NewBuilder("pipeline", "comment", "moderation").
//	    AddStep("moderate", screen).
//	    StartAt("moderate").
//	    Connect("moderate", graph.End).
//	    Build()
type Moderation struct {
	model model.ChatModel

	// Field is the state field holding the text to screen.
	Field string

	// ResultField is the state field written on acceptance.
	ResultField string

	// Tracker, when set, accumulates token usage for each call.
	Tracker *model.UsageTracker
}

// NewModeration creates a moderation step screening the given state field.
func NewModeration(m model.ChatModel, field, resultField string) *Moderation {
	return &Moderation{model: m, Field: field, ResultField: resultField}
}

// Run implements graph.Step.
func (s *Moderation) Run(ctx context.Context, state graph.State) graph.StepResult {
	text, ok := state[s.Field].(string)
	if !ok {
		return graph.Fail(fmt.Errorf("moderation: state field %q missing or not a string", s.Field))
	}

	out, err := s.model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: moderationSystemPrompt},
		{Role: model.RoleUser, Content: text},
	})
	if err != nil {
		return graph.Fail(fmt.Errorf("moderation: %w", err))
	}
	if s.Tracker != nil {
		s.Tracker.Record(out, "moderation")
	}

	verdict := strings.TrimSpace(out.Text)
	if rest, flagged := strings.CutPrefix(verdict, "FLAG:"); flagged {
		reason := strings.TrimSpace(rest)
		if reason == "" {
			reason = "content flagged for review"
		}
		return graph.Pause(reason)
	}
	if !strings.EqualFold(verdict, "OK") {
		// Unexpected response shape: treat as flagged rather than
		// letting unscreened content through.
		return graph.Pause(fmt.Sprintf("unrecognized moderation verdict: %q", verdict))
	}

	return graph.Complete(graph.State{s.ResultField: "ok"})
}
