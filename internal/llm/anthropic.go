package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicChat is the Claude-backed implementation of Chat.
type AnthropicChat struct {
	client anthropic.Client
}

// NewAnthropicChat creates a client. apiKey may be empty, in which case the
// SDK falls back to ANTHROPIC_API_KEY from the environment.
func NewAnthropicChat(apiKey string) *AnthropicChat {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicChat{client: anthropic.NewClient(opts...)}
}

// Complete sends the transcript to the API and returns the text of the reply.
func (a *AnthropicChat) Complete(ctx context.Context, req *Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// toMessageParams converts the transcript to API form. The API has no
// per-message speaker field, so named user messages become "Name: content";
// consecutive same-role messages are merged because the API requires strict
// user/assistant alternation.
func toMessageParams(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		content := m.Content
		if m.Role == "assistant" {
			role = "assistant"
		} else if m.Name != "" {
			content = m.Name + ": " + content
		}
		if n := len(out); n > 0 && string(out[n-1].Role) == role {
			out[n-1].Content = append(out[n-1].Content, anthropic.NewTextBlock(content))
			continue
		}
		if role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return out
}
