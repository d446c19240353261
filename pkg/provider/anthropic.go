package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultModel     = string(anthropic.ModelClaudeSonnet4_20250514)
	anthropicDefaultMaxTokens = 4096
)

// ClaudeClient wraps the Anthropic SDK to implement ChatClient.
type ClaudeClient struct {
	client anthropic.Client
	model  string
}

// NewClaudeClient creates a Claude chat client. model may be empty for the
// default.
func NewClaudeClient(apiKey, model string) *ClaudeClient {
	if model == "" {
		model = anthropicDefaultModel
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Name implements ChatClient.
func (c *ClaudeClient) Name() string { return "claude" }

// Chat implements ChatClient. The Anthropic API wants the system prompt as
// a top-level parameter and strict user/assistant alternation, so messages
// are normalized before the call.
func (c *ClaudeClient) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	systemPrompt, conversation, err := splitSystem(messages)
	if err != nil {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokensOrDefault(opts, anthropicDefaultMaxTokens)),
		Messages:  make([]anthropic.MessageParam, 0, len(conversation)),
	}
	if opts.Model != "" {
		params.Model = anthropic.Model(opts.Model)
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}
	for _, msg := range conversation {
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, NewError(c.Name(), "chat", classify(err), err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("empty response"))
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("no text content in response"))
	}

	return Completion{Content: text.String(), Raw: resp}, nil
}

// splitSystem extracts system messages into one prompt and merges
// consecutive same-role messages so the remainder alternates user/assistant
// starting and ending with user.
func splitSystem(messages []Message) (string, []Message, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		if len(rest) > 0 && rest[len(rest)-1].Role == msg.Role {
			rest[len(rest)-1].Content += "\n\n" + msg.Content
			continue
		}
		rest = append(rest, msg)
	}

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if rest[0].Role != RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", rest[0].Role)
	}
	if rest[len(rest)-1].Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got %s", rest[len(rest)-1].Role)
	}

	return strings.Join(systemParts, "\n\n"), rest, nil
}

func maxTokensOrDefault(opts Options, def int) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return def
}
