package agents

import (
	"context"
	"fmt"
	"strings"

	"quorum/pkg/proto"
)

// ModelOnlyLabel is the wording a merged response must carry when it was
// produced without any vault or search grounding.
const ModelOnlyLabel = "answered from model knowledge only"

// CritiqueAgent validates a merged response deterministically: non-empty
// output, the attribution invariant, and coverage of the user's declared
// constraints. It never calls a model, so a critique verdict is reproducible
// from the ledger.
type CritiqueAgent struct {
	deps Deps
}

func (a *CritiqueAgent) Role() proto.AgentRole { return proto.RoleCritique }

// Review checks one subtask's output. A reject verdict names the subtask and
// the reason so the refinement dispatch can carry it back to the agent.
func (a *CritiqueAgent) Review(merged string, sources []proto.Provenance, constraints []string, subtaskIndex int) proto.CritiqueVerdict {
	reject := func(reason string) proto.CritiqueVerdict {
		return proto.CritiqueVerdict{Accept: false, SubtaskIndex: subtaskIndex, Reason: reason}
	}
	if strings.TrimSpace(merged) == "" {
		return reject("empty output")
	}
	if !proto.HasRealSource(sources) && !strings.Contains(strings.ToLower(merged), ModelOnlyLabel) {
		return reject("output has no vault or search sources and is not labeled " + ModelOnlyLabel)
	}
	for _, c := range constraints {
		if !constraintAddressed(merged, c) {
			return reject(fmt.Sprintf("constraint not addressed: %s", c))
		}
	}
	return proto.CritiqueVerdict{Accept: true}
}

// Execute adapts Review to the common executor contract. The text under
// review arrives as the last prior output.
func (a *CritiqueAgent) Execute(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
	if err := validateInput(proto.RoleCritique, input); err != nil {
		return proto.AgentResult{}, err
	}
	if len(input.PriorOutputs) == 0 {
		return proto.AgentResult{}, &proto.AgentCommunicationError{
			Role: proto.RoleCritique, Detail: "nothing to review",
		}
	}
	merged := input.PriorOutputs[len(input.PriorOutputs)-1]
	sources := make([]proto.Provenance, 0, len(input.Context))
	for i := range input.Context {
		sources = append(sources, input.Context[i].Provenance())
	}
	verdict := a.Review(merged, sources, input.Constraints, input.SubtaskIndex)
	out := "accept"
	if !verdict.Accept {
		out = "revise: " + verdict.Reason
	}
	return proto.AgentResult{Output: out, Provenance: []proto.Provenance{proto.ModelOnly()}}, nil
}

// constraintAddressed reports whether any significant word of the constraint
// appears in the output. Short filler words do not count as evidence.
func constraintAddressed(output, constraint string) bool {
	lower := strings.ToLower(output)
	for _, word := range strings.Fields(strings.ToLower(constraint)) {
		word = strings.Trim(word, ".,:;!?\"'()")
		if len(word) < 4 {
			continue
		}
		if strings.Contains(lower, word) {
			return true
		}
	}
	// A constraint made only of short words cannot be checked; do not block.
	return !hasSignificantWord(constraint)
}

func hasSignificantWord(s string) bool {
	for _, word := range strings.Fields(s) {
		if len(strings.Trim(word, ".,:;!?\"'()")) >= 4 {
			return true
		}
	}
	return false
}
