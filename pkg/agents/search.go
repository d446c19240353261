package agents

import (
	"context"
	"fmt"
	"strings"

	"quorum/pkg/proto"
	"quorum/pkg/provider"
	"quorum/pkg/vault"
)

const defaultSearchResults = 5

// SearchAgent answers freshness-sensitive subtasks from the external search
// provider rather than the vaults. Its provenance is always external.
type SearchAgent struct {
	deps Deps
}

func (a *SearchAgent) Role() proto.AgentRole { return proto.RoleSearch }

func (a *SearchAgent) Execute(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error) {
	if err := validateInput(proto.RoleSearch, input); err != nil {
		return proto.AgentResult{}, err
	}
	if a.deps.Search == nil {
		return proto.AgentResult{}, &proto.AgentCommunicationError{
			Role: proto.RoleSearch, Detail: "no search client configured",
		}
	}
	ctx = provider.WithCallInfo(ctx, provider.CallInfo{TaskID: input.TaskID, AgentRole: string(proto.RoleSearch)})

	hits, err := a.deps.Search.Search(ctx, input.Goal, provider.SearchFilters{}, defaultSearchResults)
	if err != nil {
		return proto.AgentResult{}, err
	}
	if len(hits) == 0 {
		a.deps.Logger.Warn("search returned no results for task %s: %q", input.TaskID, input.Goal)
		return proto.AgentResult{
			Output:     "No search results were found for: " + input.Goal,
			Provenance: []proto.Provenance{proto.ModelOnly()},
		}, nil
	}

	var b strings.Builder
	sources := make([]proto.Provenance, 0, len(hits))
	for i, hit := range hits {
		snippet := hit.Snippet
		if snippet == "" {
			snippet = hit.Content
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, hit.Title, hit.URL, vault.CleanSnippet(snippet))
		sources = append(sources, proto.NewExternalProvenance(hit.URL))
	}
	return proto.AgentResult{
		Output:     strings.TrimSpace(b.String()),
		Provenance: sources,
	}, nil
}
