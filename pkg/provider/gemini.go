package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel          = "gemini-2.5-flash"
	geminiDefaultEmbeddingModel = "gemini-embedding-001"
)

// GeminiClient wraps the Google GenAI SDK. It implements both ChatClient
// and EmbeddingClient. The underlying client is created lazily because the
// SDK constructor wants a context.
type GeminiClient struct {
	client         *genai.Client
	apiKey         string
	model          string
	embeddingModel string
}

// NewGeminiClient creates a Gemini client. Empty model names select
// defaults.
func NewGeminiClient(apiKey, model, embeddingModel string) *GeminiClient {
	if model == "" {
		model = geminiDefaultModel
	}
	if embeddingModel == "" {
		embeddingModel = geminiDefaultEmbeddingModel
	}
	return &GeminiClient{
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Name implements ChatClient and EmbeddingClient.
func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) ensureClient(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return NewError(c.Name(), "connect", classify(err), err)
	}
	c.client = client
	return nil
}

// Chat implements ChatClient.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt,
			fmt.Errorf("message list cannot be empty"))
	}
	if err := c.ensureClient(ctx); err != nil {
		return Completion{}, err
	}

	config := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		config.Temperature = &temp
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt,
			fmt.Errorf("must have at least one non-system message"))
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	result, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Completion{}, NewError(c.Name(), "chat", classify(err), err)
	}
	if result == nil || result.Text() == "" {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("empty response"))
	}
	return Completion{Content: result.Text(), Raw: result}, nil
}

// Embed implements EmbeddingClient. The GenAI API has native batch
// support, so one call covers the whole slice.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.ensureClient(ctx); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents,
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"})
	if err != nil {
		return nil, NewError(c.Name(), "embed", classify(err), err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, NewError(c.Name(), "embed", ErrorTypeEmptyResponse,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), embeddingCount(result)))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func embeddingCount(result *genai.EmbedContentResponse) int {
	if result == nil {
		return 0
	}
	return len(result.Embeddings)
}
