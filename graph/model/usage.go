package model

import (
	"fmt"
	"sync"
	"time"
)

// Pricing defines input and output token costs for an LLM model.
// Prices are in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing table for major providers (as of 2025-01-01).
// Prices are in USD per 1M tokens and subject to change; update as
// providers adjust pricing.
var defaultPricing = map[string]Pricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Call records a single LLM invocation with token usage and cost.
type Call struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	StepID       string
	Timestamp    time.Time
}

// UsageTracker accumulates token usage and cost across LLM calls made
// by workflow steps, with per-model attribution.
//
// Usage:
//
//	tracker := NewUsageTracker("thread-42")
//	out, err := chatModel.Chat(ctx, msgs)
//	if err == nil {
//	    tracker.Record(out, "moderate")
//	}
//	fmt.Printf("spent $%.4f\n", tracker.TotalCost())
//
// All methods are safe for concurrent use.
type UsageTracker struct {
	mu sync.RWMutex

	threadID   string
	pricing    map[string]Pricing
	calls      []Call
	totalCost  float64
	modelCosts map[string]float64
	inTokens   int64
	outTokens  int64
}

// NewUsageTracker creates a tracker with the default pricing table.
// threadID associates recorded usage with a workflow thread.
func NewUsageTracker(threadID string) *UsageTracker {
	pricing := make(map[string]Pricing, len(defaultPricing))
	for model, p := range defaultPricing {
		pricing[model] = p
	}
	return &UsageTracker{
		threadID:   threadID,
		pricing:    pricing,
		modelCosts: make(map[string]float64),
	}
}

// Record accumulates the usage from one chat response. Models absent
// from the pricing table are recorded with zero cost.
func (t *UsageTracker) Record(out ChatOut, stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pricing := t.pricing[out.Model]
	cost := (float64(out.Usage.InputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(out.Usage.OutputTokens)/1_000_000.0)*pricing.OutputPer1M

	t.calls = append(t.calls, Call{
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		CostUSD:      cost,
		StepID:       stepID,
		Timestamp:    time.Now(),
	})

	t.totalCost += cost
	t.modelCosts[out.Model] += cost
	t.inTokens += out.Usage.InputTokens
	t.outTokens += out.Usage.OutputTokens
}

// TotalCost returns the cumulative cost in USD across all recorded calls.
func (t *UsageTracker) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// CostByModel returns per-model cumulative cost. The returned map is a copy.
func (t *UsageTracker) CostByModel() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	costs := make(map[string]float64, len(t.modelCosts))
	for model, cost := range t.modelCosts {
		costs[model] = cost
	}
	return costs
}

// Calls returns all recorded calls in chronological order. The returned
// slice is a copy.
func (t *UsageTracker) Calls() []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()

	calls := make([]Call, len(t.calls))
	copy(calls, t.calls)
	return calls
}

// TokenUsage returns total input and output token counts.
func (t *UsageTracker) TokenUsage() (inputTokens, outputTokens int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inTokens, t.outTokens
}

// SetPricing overrides pricing for one model. Useful for custom
// deployments or price updates.
func (t *UsageTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = Pricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// String returns a human-readable usage summary.
func (t *UsageTracker) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return fmt.Sprintf(
		"UsageTracker{Thread: %s, Calls: %d, TotalCost: $%.4f, InputTokens: %d, OutputTokens: %d}",
		t.threadID, len(t.calls), t.totalCost, t.inTokens, t.outTokens,
	)
}
