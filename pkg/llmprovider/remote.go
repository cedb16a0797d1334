package llmprovider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// RemoteClient calls a hosted model through the Anthropic API. This is
// the "smart" backend behind Router, used for requests that carry the
// "smart" model hint (NCM determination) or that Router's heuristic
// judges complex.
type RemoteClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewRemoteClient(apiKey string, model anthropic.Model) *RemoteClient {
	return &RemoteClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *RemoteClient) Chat(ctx context.Context, messages []Message, options SamplingOptions) (string, string, error) {
	var system string
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
	}
	if options.Temperature > 0 {
		params.Temperature = anthropic.Float(options.Temperature)
	}
	if options.TopP > 0 {
		params.TopP = anthropic.Float(options.TopP)
	}

	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "system":
			system += m.Content + "\n"
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(block))
		default:
			turns = append(turns, anthropic.NewUserMessage(block))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = turns

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", "", fmt.Errorf("llmprovider: remote client: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", "", fmt.Errorf("llmprovider: remote client: empty text content in response")
	}
	return text, string(msg.Model), nil
}
