package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"quorum/pkg/logx"
	"quorum/pkg/provider"
	"quorum/pkg/proto"
)

// Retriever answers similarity queries against a single partition index.
type Retriever struct {
	embedder provider.EmbeddingClient
	logger   *logx.Logger
}

// NewRetriever creates a retriever backed by the given embedding client.
// The client must match the one used at indexing time or scores are
// meaningless.
func NewRetriever(embedder provider.EmbeddingClient) *Retriever {
	return &Retriever{
		embedder: embedder,
		logger:   logx.NewLogger("vault-retriever"),
	}
}

// Query embeds the query and returns the topK most similar chunks in the
// partition index, scored by cosine similarity, best first.
func (r *Retriever) Query(ctx context.Context, vaultName, indexPath, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must be non-empty")
	}
	if topK <= 0 {
		topK = 5
	}
	if _, err := os.Stat(indexPath); err != nil {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: fmt.Errorf("index not found: %w", err)}
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: err}
	}
	if len(vectors) != 1 {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: fmt.Errorf("expected 1 query vector, got %d", len(vectors))}
	}
	queryVec := vectors[0]

	db, err := openIndex(indexPath)
	if err != nil {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT file_path, heading_path, text, embedding_json FROM chunks`)
	if err != nil {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: err}
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var filePath, headingPath, text, embeddingJSON string
		if err := rows.Scan(&filePath, &headingPath, &text, &embeddingJSON); err != nil {
			return nil, &proto.RetrievalError{Vault: vaultName, Err: err}
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			return nil, &proto.RetrievalError{Vault: vaultName, Err: fmt.Errorf("corrupt embedding for %s: %w", filePath, err)}
		}
		results = append(results, SearchResult{
			Vault:       vaultName,
			Score:       cosineSimilarity(queryVec, vec),
			Text:        text,
			FilePath:    filePath,
			HeadingPath: headingPath,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &proto.RetrievalError{Vault: vaultName, Err: err}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	r.logger.Debug("query vault=%s hits=%d", vaultName, len(results))
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		normA += float64(x) * float64(x)
	}
	for _, y := range b {
		normB += float64(y) * float64(y)
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
