package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
)

const (
	openaiDefaultModel          = openai.ChatModelGPT5
	openaiDefaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	openaiDefaultMaxTokens      = 4096
)

// OpenAIClient wraps the official OpenAI Go SDK. It implements both
// ChatClient (via the Responses API) and EmbeddingClient.
type OpenAIClient struct {
	client         openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIClient creates an OpenAI client. Empty model names select
// defaults.
func NewOpenAIClient(apiKey, model, embeddingModel string) *OpenAIClient {
	if model == "" {
		model = openaiDefaultModel
	}
	if embeddingModel == "" {
		embeddingModel = openaiDefaultEmbeddingModel
	}
	return &OpenAIClient{
		client:         openai.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Name implements ChatClient and EmbeddingClient.
func (c *OpenAIClient) Name() string { return "openai" }

// Chat implements ChatClient. The Responses API takes a single input
// string, so the conversation is flattened with role prefixes.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt,
			fmt.Errorf("message list cannot be empty"))
	}

	var input strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			fmt.Fprintf(&input, "System: %s\n\n", msg.Content)
		case RoleAssistant:
			fmt.Fprintf(&input, "Assistant: %s\n\n", msg.Content)
		default:
			input.WriteString(msg.Content)
			input.WriteString("\n\n")
		}
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(int64(maxTokensOrDefault(opts, openaiDefaultMaxTokens))),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(strings.TrimSpace(input.String()))},
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return Completion{}, NewError(c.Name(), "chat", classify(err), err)
	}
	if resp == nil {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("empty response"))
	}

	content := resp.OutputText()
	if content == "" {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("no text output in response"))
	}
	return Completion{Content: content, Raw: resp}, nil
}

// Embed implements EmbeddingClient.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, NewError(c.Name(), "embed", classify(err), err)
	}
	if resp == nil {
		return nil, NewError(c.Name(), "embed", ErrorTypeEmptyResponse,
			fmt.Errorf("empty response"))
	}
	if len(resp.Data) != len(texts) {
		return nil, NewError(c.Name(), "embed", ErrorTypeEmptyResponse,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[int(item.Index)] = vec
	}
	return vectors, nil
}
