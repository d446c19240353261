// Package agents implements the specialized reasoning roles. Every role
// consumes the same AgentInput shape and produces an AgentResult; the
// execution manager never needs role-specific dispatch logic beyond picking
// the executor for a subtask's declared role.
package agents

import (
	"context"
	"fmt"
	"strings"

	"quorum/pkg/logx"
	"quorum/pkg/proto"
	"quorum/pkg/provider"
	"quorum/pkg/vault"
)

// Executor is the single contract every agent role implements.
type Executor interface {
	// Role identifies which specialized agent this executor runs.
	Role() proto.AgentRole
	// Execute runs one agent step. Provider failures propagate unwrapped so
	// the caller can classify them and decide on fallback.
	Execute(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error)
}

// Deps are the shared collaborators injected into every executor.
type Deps struct {
	Chat   provider.ChatClient
	Search provider.SearchClient
	Tokens *provider.TokenCounter
	Logger *logx.Logger
	// ContextBudget caps the token count of retrieved context included in a
	// prompt. Zero means no cap.
	ContextBudget int
}

// NewExecutors builds the full role registry.
func NewExecutors(deps Deps) map[proto.AgentRole]Executor {
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("agents")
	}
	return map[proto.AgentRole]Executor{
		proto.RoleCode:         &CodeAgent{deps: deps},
		proto.RoleQuantitative: newChatAgent(deps, proto.RoleQuantitative, quantitativeSystem),
		proto.RoleHumanities:   newChatAgent(deps, proto.RoleHumanities, humanitiesSystem),
		proto.RoleTaskPlan:     newChatAgent(deps, proto.RoleTaskPlan, taskplanSystem),
		proto.RoleSearch:       &SearchAgent{deps: deps},
		proto.RoleCritique:     &CritiqueAgent{deps: deps},
	}
}

const (
	quantitativeSystem = "You are a quantitative analyst. Work step by step, show intermediate " +
		"numbers, and state units. If the context lacks the figures you need, say so explicitly."
	humanitiesSystem = "You are a careful generalist writer. Answer clearly and concisely, " +
		"grounded in the provided context where it applies."
	taskplanSystem = "You are a planning assistant. Produce a numbered, ordered list of concrete " +
		"steps. Each step names who or what performs it and what it produces."
)

// chatAgent is the shared implementation for the pure text roles. The code,
// search, and critique roles wrap or replace it with extra behavior.
type chatAgent struct {
	deps   Deps
	role   proto.AgentRole
	system string
}

func newChatAgent(deps Deps, role proto.AgentRole, system string) *chatAgent {
	return &chatAgent{deps: deps, role: role, system: system}
}

func (a *chatAgent) Role() proto.AgentRole { return a.role }

func (a *chatAgent) Execute(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error) {
	if err := validateInput(a.role, input); err != nil {
		return proto.AgentResult{}, err
	}
	ctx = provider.WithCallInfo(ctx, provider.CallInfo{TaskID: input.TaskID, AgentRole: string(a.role)})

	prompt, cited := buildPrompt(a.deps, input)
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: a.system},
		{Role: provider.RoleUser, Content: prompt},
	}
	completion, err := a.deps.Chat.Chat(ctx, messages, provider.Options{})
	if err != nil {
		return proto.AgentResult{}, err
	}

	return proto.AgentResult{
		Output:     strings.TrimSpace(completion.Content),
		Provenance: provenanceFor(cited),
	}, nil
}

func validateInput(role proto.AgentRole, input proto.AgentInput) error {
	if strings.TrimSpace(input.Goal) == "" {
		return &proto.AgentCommunicationError{Role: role, Detail: "empty goal"}
	}
	if input.TaskID == "" {
		return &proto.AgentCommunicationError{Role: role, Detail: "missing task id"}
	}
	return nil
}

// buildPrompt assembles the user prompt from the goal, prior outputs,
// constraints, and retrieved context. Context chunks are numbered so the
// model can cite them as [n]; the returned slice holds the chunks that made
// it into the prompt under the token budget, in citation order.
func buildPrompt(deps Deps, input proto.AgentInput) (string, []proto.ContextChunk) {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(input.Goal))
	b.WriteString("\n")

	if input.RevisionReason != "" {
		b.WriteString("\nYour previous answer was rejected: ")
		b.WriteString(input.RevisionReason)
		b.WriteString("\nRevise accordingly.\n")
	}
	if len(input.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range input.Constraints {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	if len(input.PriorOutputs) > 0 {
		b.WriteString("\nResults from earlier steps:\n")
		for i, out := range input.PriorOutputs {
			fmt.Fprintf(&b, "Step %d:\n%s\n", i+1, strings.TrimSpace(out))
		}
	}
	if input.ContextNote != "" {
		b.WriteString("\nNote: ")
		b.WriteString(input.ContextNote)
		b.WriteString("\n")
	}

	cited := fitContextBudget(deps, input.Context)
	if len(cited) > 0 {
		b.WriteString("\nUse only the context below and cite sources as [n].\n")
		for i, chunk := range cited {
			label := chunk.FilePath
			if chunk.HeadingPath != "" {
				label += " :: " + chunk.HeadingPath
			}
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, label, vault.CleanSnippet(chunk.Text))
		}
		b.WriteString("\nAnswer with citations.\n")
	} else {
		b.WriteString("\nNo retrieved context is available; answer from general knowledge and say so.\n")
	}
	return b.String(), cited
}

// fitContextBudget keeps chunks in rank order until the cumulative token
// count exceeds the budget. Chunks are already sorted by relevance.
func fitContextBudget(deps Deps, chunks []proto.ContextChunk) []proto.ContextChunk {
	if deps.ContextBudget <= 0 || len(chunks) == 0 {
		return chunks
	}
	var kept []proto.ContextChunk
	used := 0
	for _, chunk := range chunks {
		n := deps.Tokens.CountTokens(chunk.Text)
		if used+n > deps.ContextBudget && len(kept) > 0 {
			break
		}
		kept = append(kept, chunk)
		used += n
	}
	return kept
}

func provenanceFor(cited []proto.ContextChunk) []proto.Provenance {
	if len(cited) == 0 {
		return []proto.Provenance{proto.ModelOnly()}
	}
	sources := make([]proto.Provenance, 0, len(cited))
	for i := range cited {
		sources = append(sources, cited[i].Provenance())
	}
	return sources
}
