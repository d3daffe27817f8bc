package model

import (
	"math"
	"testing"
)

func TestUsageTracker(t *testing.T) {
	t.Run("records calls and computes cost", func(t *testing.T) {
		tracker := NewUsageTracker("thread-1")

		tracker.Record(ChatOut{
			Model: "gpt-4o",
			Usage: Usage{InputTokens: 1_000_000, OutputTokens: 500_000},
		}, "moderate")

		// 1M input at $2.50 + 0.5M output at $10.00
		want := 2.50 + 5.00
		if got := tracker.TotalCost(); math.Abs(got-want) > 1e-9 {
			t.Errorf("TotalCost = %v, want %v", got, want)
		}

		in, out := tracker.TokenUsage()
		if in != 1_000_000 || out != 500_000 {
			t.Errorf("TokenUsage = (%d, %d), want (1000000, 500000)", in, out)
		}

		calls := tracker.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].StepID != "moderate" {
			t.Errorf("StepID = %q, want 'moderate'", calls[0].StepID)
		}
	})

	t.Run("attributes cost per model", func(t *testing.T) {
		tracker := NewUsageTracker("thread-2")

		tracker.Record(ChatOut{Model: "gpt-4o-mini", Usage: Usage{InputTokens: 2_000_000}}, "a")
		tracker.Record(ChatOut{Model: "claude-3-haiku-20240307", Usage: Usage{OutputTokens: 1_000_000}}, "b")

		costs := tracker.CostByModel()
		if len(costs) != 2 {
			t.Fatalf("expected 2 models, got %d", len(costs))
		}
		if math.Abs(costs["gpt-4o-mini"]-0.30) > 1e-9 {
			t.Errorf("gpt-4o-mini cost = %v, want 0.30", costs["gpt-4o-mini"])
		}
		if math.Abs(costs["claude-3-haiku-20240307"]-1.25) > 1e-9 {
			t.Errorf("claude-3-haiku cost = %v, want 1.25", costs["claude-3-haiku-20240307"])
		}
	})

	t.Run("unknown model records zero cost", func(t *testing.T) {
		tracker := NewUsageTracker("thread-3")

		tracker.Record(ChatOut{Model: "mock", Usage: Usage{InputTokens: 999, OutputTokens: 999}}, "")

		if got := tracker.TotalCost(); got != 0 {
			t.Errorf("unknown model cost = %v, want 0", got)
		}
		if len(tracker.Calls()) != 1 {
			t.Error("call should still be recorded")
		}
	})

	t.Run("custom pricing overrides default", func(t *testing.T) {
		tracker := NewUsageTracker("thread-4")
		tracker.SetPricing("in-house-model", 1.00, 2.00)

		tracker.Record(ChatOut{
			Model: "in-house-model",
			Usage: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
		}, "")

		if got := tracker.TotalCost(); math.Abs(got-3.00) > 1e-9 {
			t.Errorf("TotalCost = %v, want 3.00", got)
		}
	})

	t.Run("custom pricing does not leak across trackers", func(t *testing.T) {
		a := NewUsageTracker("a")
		a.SetPricing("gpt-4o", 100.0, 100.0)

		b := NewUsageTracker("b")
		b.Record(ChatOut{Model: "gpt-4o", Usage: Usage{InputTokens: 1_000_000}}, "")
		if got := b.TotalCost(); math.Abs(got-2.50) > 1e-9 {
			t.Errorf("tracker b cost = %v, want default 2.50", got)
		}
	})
}
