// Package anthropic adapts Anthropic's Claude API to the model.ChatModel
// interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/stategraph/graph/model"
)

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel using Anthropic's Claude API.
// It wraps the official anthropic-sdk-go client.
//
// ChatModel is safe for concurrent use after creation. The underlying SDK
// client handles concurrent requests safely.
type ChatModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude chat model with the given API key and model.
// The model parameter should be one of Claude's available models:
//   - claude-3-5-sonnet-20241022 (recommended, most capable)
//   - claude-3-opus-20240229 (highest capability, slower)
//   - claude-3-haiku-20240307 (fastest, lower cost)
//
// The API key can be obtained from https://console.anthropic.com/
func New(apiKey, modelName string) *ChatModel {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client:    &client,
		model:     modelName,
		maxTokens: defaultMaxTokens,
	}
}

// SetMaxTokens overrides the default completion token limit.
func (c *ChatModel) SetMaxTokens(n int64) {
	c.maxTokens = n
}

// Chat implements model.ChatModel by calling the Messages API.
//
// System messages are extracted into the request's system prompt, as the
// Messages API does not accept a "system" role in the message list.
// User and assistant messages are passed through in order.
func (c *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	var system []anthropic.TextBlockParam
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case model.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  params,
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text:  sb.String(),
		Model: string(message.Model),
		Usage: model.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}
