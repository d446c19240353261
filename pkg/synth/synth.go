// Package synth merges accepted agent outputs into one final response with a
// deduplicated union of context sources.
package synth

import (
	"strings"

	"quorum/pkg/agents"
	"quorum/pkg/proto"
)

// Part is one accepted subtask output, in subtask order.
type Part struct {
	Role    proto.AgentRole
	Output  string
	Sources []proto.Provenance
}

// Result is the finalized response.
type Result struct {
	Text    string
	Sources []proto.Provenance
}

// Merge concatenates the parts in order, dropping paragraphs that repeat
// verbatim across parts. When no part carries a real source, the text is
// labeled so the reader knows nothing was retrieved or searched, and the
// provenance set collapses to a single model-only tag.
func Merge(parts []Part) Result {
	var paragraphs []string
	seen := make(map[string]bool)
	var sources []proto.Provenance
	seenSrc := make(map[string]bool)

	for _, part := range parts {
		for _, para := range splitParagraphs(part.Output) {
			key := normalizeParagraph(para)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			paragraphs = append(paragraphs, para)
		}
		for _, src := range part.Sources {
			key := src.String()
			if seenSrc[key] {
				continue
			}
			seenSrc[key] = true
			sources = append(sources, src)
		}
	}

	text := strings.Join(paragraphs, "\n\n")
	if !proto.HasRealSource(sources) {
		if text != "" {
			text += "\n\n"
		}
		text += "(" + capitalize(agents.ModelOnlyLabel) + ".)"
		sources = []proto.Provenance{proto.ModelOnly()}
	}
	return Result{Text: text, Sources: sources}
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

// normalizeParagraph folds case and whitespace so trivially restated
// paragraphs still dedupe.
func normalizeParagraph(para string) string {
	return strings.Join(strings.Fields(strings.ToLower(para)), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
