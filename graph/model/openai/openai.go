// Package openai adapts OpenAI's chat completions API to the
// model.ChatModel interface.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/stategraph/graph/model"
)

// ChatModel implements model.ChatModel using OpenAI's GPT models.
// It wraps the official OpenAI Go SDK.
//
// ChatModel is safe for concurrent use as the underlying client handles
// thread-safety internally.
type ChatModel struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI chat model.
//
// Parameters:
//   - apiKey: OpenAI API key (must start with "sk-")
//   - modelName: Model to use (e.g., "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo")
//
// Returns error if apiKey or modelName is empty.
func New(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &ChatModel{
		client: &client,
		model:  modelName,
	}, nil
}

// Chat implements model.ChatModel by calling the chat completions API.
func (c *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	// Check context before making an expensive API call
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params = append(params, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: params,
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat: %w", err)
	}

	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("no response from OpenAI API")
	}

	return model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}
