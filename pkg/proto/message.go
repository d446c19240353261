package proto

import "time"

// ContextChunk is a ranked piece of retrieved vault content. Chunks are
// transient: they live only for the duration of the owning agent step, whose
// context_sources record their provenance.
type ContextChunk struct {
	Text        string  `json:"text"`
	Vault       string  `json:"vault"`
	FilePath    string  `json:"file_path"`
	HeadingPath string  `json:"heading_path"`
	Score       float64 `json:"score"`
}

// Provenance converts a chunk into its attribution tag.
func (c *ContextChunk) Provenance() Provenance {
	return NewVaultProvenance(c.Vault, c.FilePath, c.HeadingPath)
}

// AgentInput is the structured message the execution manager dispatches to
// an agent. Every role consumes the same shape.
type AgentInput struct {
	TaskID       string         `json:"task_id"`
	SubtaskIndex int            `json:"subtask_index"`
	Iteration    int            `json:"iteration"`
	Goal         string         `json:"goal"`
	Context      []ContextChunk `json:"context,omitempty"`
	Constraints  []string       `json:"constraints,omitempty"`
	// PriorOutputs carries the accepted outputs of subtasks this one
	// depends on, in dependency order.
	PriorOutputs []string `json:"prior_outputs,omitempty"`
	// RevisionReason is set when the dispatch is a critique-driven
	// refinement of an earlier attempt.
	RevisionReason string `json:"revision_reason,omitempty"`
	// ContextNote records a degraded-retrieval condition so it is never
	// silently dropped (e.g. "retrieval unavailable, answering model-only").
	ContextNote string `json:"context_note,omitempty"`
}

// PatchProposal is emitted by the code role instead of a direct file write.
type PatchProposal struct {
	TargetPath string `json:"target_path"`
	DiffText   string `json:"diff_text"`
}

// AgentResult is the structured result every agent produces.
type AgentResult struct {
	Output     string       `json:"output"`
	Provenance []Provenance `json:"provenance"`
	// Proposal is non-nil only for code-mutation subtasks.
	Proposal *PatchProposal `json:"proposal,omitempty"`
}

// CritiqueVerdict is the critique role's decision on a merged response.
type CritiqueVerdict struct {
	Accept bool `json:"accept"`
	// SubtaskIndex and Reason are set when Accept is false.
	SubtaskIndex int    `json:"subtask_index,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// AgentStep is the append-only ledger record of one agent invocation,
// including refinement retries (each retry is a new step with a higher
// iteration).
type AgentStep struct {
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	ID             string       `json:"id"`
	TaskID         string       `json:"task_id"`
	SubtaskIndex   int          `json:"subtask_index"`
	Iteration      int          `json:"iteration"`
	AgentRole      AgentRole    `json:"agent_role"`
	InputMessage   string       `json:"input_message"`
	Output         string       `json:"output"`
	ContextSources []Provenance `json:"context_sources,omitempty"`
}

// Feedback is an append-only user rating of a task's handling by one role.
type Feedback struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentRole AgentRole `json:"agent_role"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
}

// Fact is a shared claim keyed by (key, source_agent). Writes with the same
// key and source replace earlier values; claims from different sources for
// the same key coexist. Confidence is informational only and never used to
// drop a claim.
type Fact struct {
	UpdatedAt   time.Time `json:"updated_at"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	SourceAgent string    `json:"source_agent"`
	Confidence  float64   `json:"confidence"`
}

// SearchResult is one hit from the external search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}
