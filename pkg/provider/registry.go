package provider

import (
	"fmt"
	"os"
	"strings"

	"quorum/pkg/config"
)

// Env var names for provider credentials.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvSearchKey    = "SEARCH_API_KEY"
)

// Factory builds provider clients from configuration. All chat clients
// come wrapped with retry and metrics middleware.
type Factory struct {
	cfg      config.ProviderConfig
	recorder Recorder
	retry    RetryConfig
}

// NewFactory creates a provider factory. recorder may be nil to disable
// metrics.
func NewFactory(cfg config.ProviderConfig, recorder Recorder) *Factory {
	return &Factory{cfg: cfg, recorder: recorder, retry: DefaultRetryConfig}
}

// ChatClient builds the configured primary chat client.
func (f *Factory) ChatClient() (ChatClient, error) {
	return f.chatClientFor(f.cfg.LLM)
}

// FallbackChatClient builds the configured fallback chat client, or nil
// when no fallback is set.
func (f *Factory) FallbackChatClient() (ChatClient, error) {
	if f.cfg.Fallback == "" {
		return nil, nil
	}
	return f.chatClientFor(f.cfg.Fallback)
}

func (f *Factory) chatClientFor(name string) (ChatClient, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("llm provider is not set, use echo|claude|openai|gemini|ollama: %w", ErrNotConfigured)
	}

	var raw ChatClient
	switch name {
	case "echo":
		raw = NewEchoClient(0)
	case "claude", "anthropic":
		key, err := apiKey(EnvAnthropicKey)
		if err != nil {
			return nil, err
		}
		raw = NewClaudeClient(key, f.cfg.LLMModel)
	case "openai":
		key, err := apiKey(EnvOpenAIKey)
		if err != nil {
			return nil, err
		}
		raw = NewOpenAIClient(key, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	case "gemini", "google":
		key, err := apiKey(EnvGeminiKey)
		if err != nil {
			return nil, err
		}
		raw = NewGeminiClient(key, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	case "ollama":
		raw = NewOllamaClient(f.cfg.OllamaHost, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("provider %q is not supported, use echo|claude|openai|gemini|ollama: %w",
			name, ErrNotImplemented)
	}

	client := WithRetry(raw, f.retry)
	if f.recorder != nil {
		client = WithMetrics(client, f.recorder)
	}
	return client, nil
}

// EmbeddingClient builds the configured embedding client.
func (f *Factory) EmbeddingClient() (EmbeddingClient, error) {
	name := strings.ToLower(strings.TrimSpace(f.cfg.Embedding))
	if name == "" {
		return nil, fmt.Errorf("embedding provider is not set, use echo|openai|gemini|ollama: %w", ErrNotConfigured)
	}

	var raw EmbeddingClient
	switch name {
	case "echo":
		raw = NewEchoClient(0)
	case "openai":
		key, err := apiKey(EnvOpenAIKey)
		if err != nil {
			return nil, err
		}
		raw = NewOpenAIClient(key, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	case "gemini", "google":
		key, err := apiKey(EnvGeminiKey)
		if err != nil {
			return nil, err
		}
		raw = NewGeminiClient(key, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	case "ollama":
		raw = NewOllamaClient(f.cfg.OllamaHost, f.cfg.LLMModel, f.cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("embedding provider %q is not supported, use echo|openai|gemini|ollama: %w",
			name, ErrNotImplemented)
	}
	return WithEmbedRetry(raw, f.retry), nil
}

// SearchClient builds the configured external search client. Returns the
// echo client when no gateway URL is configured so search-free setups
// still work.
func (f *Factory) SearchClient() SearchClient {
	if f.cfg.SearchBaseURL == "" {
		return NewEchoClient(0)
	}
	return NewHTTPSearchClient(f.cfg.SearchBaseURL, os.Getenv(EnvSearchKey))
}

func apiKey(envVar string) (string, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("%s is not set: %w", envVar, ErrNotConfigured)
	}
	return key, nil
}
