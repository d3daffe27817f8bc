// Package model provides LLM integration adapters for use inside graph steps.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between various LLM providers
// (OpenAI, Anthropic, Google) providing a unified API for chat-based
// interactions from workflow steps.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert the standard Message format to the provider's format
//   - Parse provider responses back to the standard ChatOut format
//   - Respect context cancellation and timeouts
//
// Example usage:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Classify this comment."},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	// Chat sends the conversation to the LLM and returns the response.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - messages: Conversation history (system, user, assistant messages)
	//
	// Returns the model's text response with token usage, or provider
	// errors, network errors, or context cancellation.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem sets context and behavior for the model.
	RoleSystem Role = "system"

	// RoleUser carries user input or questions.
	RoleUser Role = "user"

	// RoleAssistant carries prior model responses.
	RoleAssistant Role = "assistant"
)

// Message represents a single message in an LLM conversation.
//
// Messages follow the common chat format used by OpenAI, Anthropic, Google,
// and other providers: an optional system message setting behavior, then
// alternating user and assistant turns.
type Message struct {
	// Role is the message author: RoleSystem, RoleUser, or RoleAssistant.
	Role Role

	// Content is the message text.
	Content string
}

// Usage reports token consumption for one chat call.
type Usage struct {
	// InputTokens counts tokens in the prompt.
	InputTokens int64

	// OutputTokens counts tokens in the completion.
	OutputTokens int64
}

// ChatOut is the normalized response from a chat call.
type ChatOut struct {
	// Text is the model's response text.
	Text string

	// Model is the provider's reported model identifier, used for cost
	// attribution.
	Model string

	// Usage reports token consumption, when the provider supplies it.
	Usage Usage
}
