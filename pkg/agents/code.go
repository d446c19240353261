package agents

import (
	"context"
	"regexp"
	"strings"

	"quorum/pkg/proto"
	"quorum/pkg/provider"
)

const codeSystem = "You are a code-editing agent. You never write files directly. When the task " +
	"requires changing code, respond with a single unified diff inside a ```diff fenced block, " +
	"with standard --- a/path and +++ b/path headers, followed by a short explanation. When the " +
	"task is a question about code, answer in prose instead."

// CodeAgent handles code reasoning and code mutation. Mutations are returned
// as a PatchProposal; the agent itself has no filesystem access.
type CodeAgent struct {
	deps Deps
}

func (a *CodeAgent) Role() proto.AgentRole { return proto.RoleCode }

func (a *CodeAgent) Execute(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error) {
	if err := validateInput(proto.RoleCode, input); err != nil {
		return proto.AgentResult{}, err
	}
	ctx = provider.WithCallInfo(ctx, provider.CallInfo{TaskID: input.TaskID, AgentRole: string(proto.RoleCode)})

	prompt, cited := buildPrompt(a.deps, input)
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: codeSystem},
		{Role: provider.RoleUser, Content: prompt},
	}
	completion, err := a.deps.Chat.Chat(ctx, messages, provider.Options{})
	if err != nil {
		return proto.AgentResult{}, err
	}

	output := strings.TrimSpace(completion.Content)
	result := proto.AgentResult{
		Output:     output,
		Provenance: provenanceFor(cited),
	}
	if proposal := extractProposal(output); proposal != nil {
		result.Proposal = proposal
		a.deps.Logger.Info("code agent proposed patch for %s (task %s, subtask %d)",
			proposal.TargetPath, input.TaskID, input.SubtaskIndex)
	}
	return result, nil
}

var diffFenceRe = regexp.MustCompile("(?s)```(?:diff|patch)\n(.*?)```")

// extractProposal pulls a unified diff out of the model output. A reply with
// no diff is a plain answer, not an error.
func extractProposal(output string) *proto.PatchProposal {
	diff := ""
	if m := diffFenceRe.FindStringSubmatch(output); m != nil {
		diff = strings.TrimSpace(m[1])
	} else if i := strings.Index(output, "--- "); i >= 0 && strings.Contains(output[i:], "\n+++ ") {
		diff = strings.TrimSpace(output[i:])
	}
	if diff == "" {
		return nil
	}
	target := diffTargetPath(diff)
	if target == "" {
		return nil
	}
	if !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	return &proto.PatchProposal{TargetPath: target, DiffText: diff}
}

// diffTargetPath reads the new-file path from the +++ header, stripping the
// conventional b/ prefix.
func diffTargetPath(diff string) string {
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
		if i := strings.IndexByte(path, '\t'); i >= 0 {
			path = path[:i]
		}
		path = strings.TrimPrefix(path, "b/")
		if path == "/dev/null" {
			continue
		}
		return path
	}
	return ""
}
