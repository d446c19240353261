// Package vault indexes markdown knowledge partitions into per-partition
// sqlite vector indexes and answers similarity queries against them. Two
// partitions exist by convention, "personal" and "project"; the coordinator
// merges results across them under a single relevance floor.
package vault

// Chunk is one embeddable span of a markdown file, scoped to a heading
// path like "Projects > Quorum > Roadmap".
type Chunk struct {
	Text        string
	FilePath    string
	HeadingPath string
}

// SearchResult is one scored chunk from a partition index.
type SearchResult struct {
	Vault       string
	Score       float64
	Text        string
	FilePath    string
	HeadingPath string
}

// Filters narrows retrieval results by path.
type Filters struct {
	// ExcludeTemplates drops results whose path mentions templates.
	ExcludeTemplates bool
	// PathContains keeps only results whose path contains at least one
	// of the substrings. Empty means keep all.
	PathContains []string
	// PathExcludes drops results whose path contains any substring.
	PathExcludes []string
}
