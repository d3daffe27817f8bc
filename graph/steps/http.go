package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dshills/stategraph/graph"
)

// Webhook is a step that POSTs the current state as JSON to an external
// service and merges the JSON object in the response body back into the
// state as a patch.
//
// Useful for delegating a step's work to an existing HTTP service:
//   - Enrichment and scoring endpoints
//   - Notification hooks that return acknowledgment fields
//   - Legacy systems fronted by a thin JSON API
//
// The response body must be a JSON object whose keys are declared in the
// graph schema; undeclared keys are rejected by the engine when the
// patch is merged. Non-2xx responses fail the step.
//
// Example usage:
//
//	hook := steps.NewWebhook("https://scorer.internal/v1/score")
//	hook.Headers["Authorization"] = "Bearer " + token
type Webhook struct {
	// URL is the endpoint to POST state to.
	URL string

	// Headers are added to every request. Content-Type is always
	// application/json.
	Headers map[string]string

	client *http.Client
}

// NewWebhook creates a webhook step posting to the given URL.
// Timeouts are handled via the step context, not the HTTP client.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:     url,
		Headers: make(map[string]string),
		client:  &http.Client{},
	}
}

// Run implements graph.Step.
func (w *Webhook) Run(ctx context.Context, state graph.State) graph.StepResult {
	payload, err := json.Marshal(state)
	if err != nil {
		return graph.Fail(fmt.Errorf("webhook: marshal state: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return graph.Fail(fmt.Errorf("webhook: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return graph.Fail(fmt.Errorf("webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return graph.Fail(fmt.Errorf("webhook: read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return graph.Fail(fmt.Errorf("webhook: %s returned %d: %s", w.URL, resp.StatusCode, body))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return graph.Complete(nil)
	}

	var patch graph.State
	if err := json.Unmarshal(body, &patch); err != nil {
		return graph.Fail(fmt.Errorf("webhook: response is not a JSON object: %w", err))
	}
	return graph.Complete(patch)
}
