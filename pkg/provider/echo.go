package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// EchoClient is a deterministic offline backend used in tests and as a
// safe default when no real provider is configured. Chat echoes the last
// user message, embeddings are derived from a text hash so equal inputs
// map to equal vectors, and search returns no hits.
type EchoClient struct {
	dims int
}

// NewEchoClient creates an echo client producing vectors of the given
// dimensionality.
func NewEchoClient(dims int) *EchoClient {
	if dims <= 0 {
		dims = 16
	}
	return &EchoClient{dims: dims}
}

// Name implements ChatClient, EmbeddingClient, and SearchClient.
func (c *EchoClient) Name() string { return "echo" }

// Chat implements ChatClient.
func (c *EchoClient) Chat(_ context.Context, messages []Message, _ Options) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, NewError(c.Name(), "chat", ErrorTypeBadPrompt,
			fmt.Errorf("message list cannot be empty"))
	}
	last := ""
	for _, msg := range messages {
		if msg.Role == RoleUser {
			last = msg.Content
		}
	}
	if last == "" {
		last = messages[len(messages)-1].Content
	}
	return Completion{Content: "ECHO: " + last}, nil
}

// Embed implements EmbeddingClient. Vectors are a seeded hash walk over
// the input, so the same text always embeds identically and distinct
// texts rarely collide.
func (c *EchoClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, c.dims)
		for j, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[(j+int(h.Sum32()))%c.dims] += 1.0
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Search implements SearchClient.
func (c *EchoClient) Search(_ context.Context, _ string, _ SearchFilters, _ int) ([]SearchHit, error) {
	return nil, nil
}
