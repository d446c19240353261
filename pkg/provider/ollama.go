package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const (
	ollamaDefaultHost           = "http://localhost:11434"
	ollamaDefaultModel          = "llama3.2"
	ollamaDefaultEmbeddingModel = "nomic-embed-text"
)

// OllamaClient wraps the Ollama HTTP API for local model serving. It
// implements both ChatClient and EmbeddingClient.
type OllamaClient struct {
	client         *api.Client
	model          string
	embeddingModel string
}

// NewOllamaClient creates an Ollama client for the given host URL. Empty
// arguments select defaults.
func NewOllamaClient(hostURL, model, embeddingModel string) *OllamaClient {
	if hostURL == "" {
		hostURL = ollamaDefaultHost
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	if embeddingModel == "" {
		embeddingModel = ollamaDefaultEmbeddingModel
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse(ollamaDefaultHost)
	}
	return &OllamaClient{
		client:         api.NewClient(parsedURL, http.DefaultClient),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

// Name implements ChatClient and EmbeddingClient.
func (c *OllamaClient) Name() string { return "ollama" }

// Chat implements ChatClient.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt,
			fmt.Errorf("message list cannot be empty"))
	}

	converted := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: converted,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return Completion{}, NewError(c.Name(), "chat", classify(err), err)
	}
	if response.Message.Content == "" {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeEmptyResponse,
			fmt.Errorf("empty response"))
	}
	return Completion{Content: response.Message.Content, Raw: &response}, nil
}

// Embed implements EmbeddingClient.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, NewError(c.Name(), "embed", classify(err), err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, NewError(c.Name(), "embed", ErrorTypeEmptyResponse,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), embedRespCount(resp)))
	}
	return resp.Embeddings, nil
}

func embedRespCount(resp *api.EmbedResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}
