package model

import (
	"context"
	"sync"
)

// MockChatModel is a deterministic ChatModel for tests and examples.
// It replays canned responses in order and records every call.
type MockChatModel struct {
	mu sync.Mutex

	// Responses are returned one per call, in order. After the slice is
	// exhausted, the last response repeats.
	Responses []string

	// Err, when set, is returned from every call instead of a response.
	Err error

	// Calls records the messages passed to each Chat invocation.
	Calls [][]Message

	next int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]Message, len(messages))
	copy(copied, messages)
	m.Calls = append(m.Calls, copied)

	if m.Err != nil {
		return ChatOut{}, m.Err
	}

	text := ""
	if len(m.Responses) > 0 {
		idx := m.next
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		text = m.Responses[idx]
		m.next++
	}

	return ChatOut{
		Text:  text,
		Model: "mock",
		Usage: Usage{InputTokens: int64(len(messages)), OutputTokens: 1},
	}, nil
}

// CallCount returns the number of Chat invocations recorded so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
