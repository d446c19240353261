package vault

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strings"

	"quorum/pkg/config"
	"quorum/pkg/logx"
	"quorum/pkg/provider"
	"quorum/pkg/proto"
)

// Coordinator fans retrieval out across the partitions a scope names and
// merges the results into one ranked context set. Results below the
// relevance floor are dropped; an empty result set is a valid no-context
// outcome, not an error.
type Coordinator struct {
	retriever    *Retriever
	indexer      *Indexer
	logger       *logx.Logger
	vaults       map[string]config.VaultConfig
	indexRoot    string
	topK         int
	minRelevance float64
}

// NewCoordinator builds a coordinator from configuration.
func NewCoordinator(cfg config.Config, embedder provider.EmbeddingClient) *Coordinator {
	return &Coordinator{
		retriever:    NewRetriever(embedder),
		indexer:      NewIndexer(embedder),
		logger:       logx.NewLogger("vault-coordinator"),
		vaults:       cfg.Vaults,
		indexRoot:    cfg.IndexRoot,
		topK:         cfg.Retrieval.TopK,
		minRelevance: cfg.Retrieval.MinRelevance,
	}
}

// HasIndex reports whether a partition has a built index on disk.
func (c *Coordinator) HasIndex(vaultName string) bool {
	_, err := os.Stat(indexPathFor(c.indexRoot, vaultName))
	return err == nil
}

// IndexVault brings one partition's index up to date.
func (c *Coordinator) IndexVault(ctx context.Context, vaultName string, opts IndexOptions) (int, error) {
	vcfg, ok := c.vaults[vaultName]
	if !ok || vcfg.Path == "" {
		return 0, &proto.VaultAccessError{Vault: vaultName, Err: errVaultNotConfigured}
	}
	return c.indexer.Index(ctx, vaultName, vcfg.Path, indexPathFor(c.indexRoot, vaultName), opts)
}

// Retrieve queries every partition the scope covers and merges the
// results: score descending, ties broken by partition name then file path,
// near-duplicate chunks from the same file collapsed, relevance floor
// applied, capped at topK overall. ScopeNone returns nil without touching
// any index.
func (c *Coordinator) Retrieve(ctx context.Context, query string, scope proto.RetrievalScope, filters Filters) ([]proto.ContextChunk, error) {
	var merged []SearchResult
	for _, vaultName := range scope.Vaults() {
		vcfg, ok := c.vaults[vaultName]
		if !ok || vcfg.Path == "" {
			return nil, &proto.VaultAccessError{Vault: vaultName, Err: errVaultNotConfigured}
		}
		results, err := c.retriever.Query(ctx, vaultName, indexPathFor(c.indexRoot, vaultName), query, c.topK)
		if err != nil {
			return nil, err
		}
		merged = append(merged, applyFilters(results, filters)...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Vault != merged[j].Vault {
			return merged[i].Vault < merged[j].Vault
		}
		return merged[i].FilePath < merged[j].FilePath
	})

	merged = dedupeOverlapping(merged)

	var chunks []proto.ContextChunk
	for _, result := range merged {
		if result.Score < c.minRelevance {
			continue
		}
		chunks = append(chunks, proto.ContextChunk{
			Text:        result.Text,
			Vault:       result.Vault,
			FilePath:    result.FilePath,
			HeadingPath: result.HeadingPath,
			Score:       result.Score,
		})
		if len(chunks) == c.topK {
			break
		}
	}
	c.logger.Debug("retrieve scope=%s merged=%d kept=%d", scope, len(merged), len(chunks))
	return chunks, nil
}

var errVaultNotConfigured = &notConfiguredError{}

type notConfiguredError struct{}

func (*notConfiguredError) Error() string { return "vault path is not configured" }

// applyFilters drops results by path per the filter rules.
func applyFilters(results []SearchResult, filters Filters) []SearchResult {
	var kept []SearchResult
	for _, result := range results {
		pathLower := strings.ToLower(result.FilePath)
		if filters.ExcludeTemplates &&
			(strings.Contains(pathLower, "template") || strings.Contains(pathLower, "/templates/")) {
			continue
		}
		if len(filters.PathContains) > 0 && !containsAny(pathLower, filters.PathContains) {
			continue
		}
		if containsAny(pathLower, filters.PathExcludes) {
			continue
		}
		kept = append(kept, result)
	}
	return kept
}

func containsAny(pathLower string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(pathLower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// dedupeOverlapping collapses results from the same file whose heading
// paths nest inside each other, keeping the better-ranked one. Input must
// already be sorted best first.
func dedupeOverlapping(results []SearchResult) []SearchResult {
	var kept []SearchResult
	for _, candidate := range results {
		duplicate := false
		for _, existing := range kept {
			if existing.FilePath == candidate.FilePath &&
				headingsOverlap(existing.HeadingPath, candidate.HeadingPath) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// headingsOverlap reports whether one heading path contains the other,
// i.e. the sections nest.
func headingsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+" > ") || strings.HasPrefix(b, a+" > ")
}

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanSnippet strips fenced code blocks, collapses whitespace, and caps
// the text at 300 characters for display and prompt building.
func CleanSnippet(text string) string {
	cleaned := fencedCodeRe.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))
	if len(cleaned) > 300 {
		cleaned = cleaned[:300]
	}
	return cleaned
}
