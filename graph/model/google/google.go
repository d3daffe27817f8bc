// Package google adapts Google's Gemini API to the model.ChatModel
// interface.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/stategraph/graph/model"
)

// DefaultModel is the Gemini model used when none is specified.
const DefaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel using Google's Gemini API.
// It wraps the official generative-ai-go client.
//
// Call Close when the model is no longer needed to release the
// underlying client's resources.
type ChatModel struct {
	client *genai.Client
	model  string
}

// New creates a Gemini chat model.
//
// Parameters:
//   - apiKey: Google API key. If empty, reads from the GOOGLE_API_KEY
//     environment variable.
//   - modelName: Gemini model to use (e.g., "gemini-1.5-flash",
//     "gemini-1.5-pro"). If empty, uses DefaultModel.
//
// Returns an error if no API key is available or the client cannot be
// created.
func New(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("google API key not provided and GOOGLE_API_KEY not set")
		}
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{
		client: client,
		model:  modelName,
	}, nil
}

// Close closes the underlying Gemini client and releases resources.
func (c *ChatModel) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel by calling GenerateContent.
//
// Gemini has no separate system role in this API surface, so system
// messages are folded into the prompt ahead of the conversation.
func (c *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case model.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}

	gm := c.client.GenerativeModel(c.model)
	resp, err := gm.GenerateContent(ctx, genai.Text(sb.String()))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google chat: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return model.ChatOut{Model: c.model}, nil
	}

	var text strings.Builder
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	out := model.ChatOut{
		Text:  text.String(),
		Model: c.model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
