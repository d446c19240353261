package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  TaskStatus
		to    TaskStatus
		valid bool
	}{
		{"planned to awaiting", TaskPlanned, TaskAwaitingApproval, true},
		{"awaiting to running", TaskAwaitingApproval, TaskRunning, true},
		{"awaiting to failed", TaskAwaitingApproval, TaskFailed, true},
		{"running to completed", TaskRunning, TaskCompleted, true},
		{"running to failed", TaskRunning, TaskFailed, true},
		{"planned skips approval", TaskPlanned, TaskRunning, false},
		{"no backward transition", TaskRunning, TaskAwaitingApproval, false},
		{"completed is terminal", TaskCompleted, TaskRunning, false},
		{"failed is terminal", TaskFailed, TaskRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransitionTask(tt.from, tt.to))
		})
	}
}

func TestPatchTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  PatchStatus
		to    PatchStatus
		valid bool
	}{
		{"proposed to approved", PatchProposed, PatchApproved, true},
		{"proposed to rejected", PatchProposed, PatchRejected, true},
		{"approved to applied", PatchApproved, PatchApplied, true},
		{"approved to failed", PatchApproved, PatchFailed, true},
		{"proposed straight to applied", PatchProposed, PatchApplied, false},
		{"rejected is terminal", PatchRejected, PatchApproved, false},
		{"applied is terminal", PatchApplied, PatchFailed, false},
		{"failed is terminal", PatchFailed, PatchApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransitionPatch(tt.from, tt.to))
		})
	}
}

func TestPlanValidate(t *testing.T) {
	plan := &Plan{Subtasks: []Subtask{
		{AgentRole: RoleSearch, Goal: "find sources", RetrievalScope: ScopeNone, RequiresSearch: true},
		{AgentRole: RoleHumanities, Goal: "summarize", RetrievalScope: ScopeBoth, DependsOn: []int{0}},
	}}
	require.NoError(t, plan.Validate())

	empty := &Plan{}
	assert.Error(t, empty.Validate())

	badRole := &Plan{Subtasks: []Subtask{{AgentRole: "astrology", Goal: "x", RetrievalScope: ScopeNone}}}
	assert.Error(t, badRole.Validate())

	forwardDep := &Plan{Subtasks: []Subtask{
		{AgentRole: RoleCode, Goal: "x", RetrievalScope: ScopeNone, DependsOn: []int{1}},
		{AgentRole: RoleCode, Goal: "y", RetrievalScope: ScopeNone},
	}}
	assert.Error(t, forwardDep.Validate())
}

func TestPlanRoundTrip(t *testing.T) {
	plan := &Plan{Subtasks: []Subtask{
		{AgentRole: RoleQuantitative, Goal: "compute ratios", RetrievalScope: ScopeProject, UserConstraints: []string{"show workings"}},
	}}

	data, err := MarshalPlan(plan)
	require.NoError(t, err)

	got, err := UnmarshalPlan(data)
	require.NoError(t, err)
	assert.Equal(t, plan, got)
}

func TestScopeVaults(t *testing.T) {
	assert.Equal(t, []string{"personal"}, ScopePersonal.Vaults())
	assert.Equal(t, []string{"project"}, ScopeProject.Vaults())
	assert.Equal(t, []string{"personal", "project"}, ScopeBoth.Vaults())
	assert.Nil(t, ScopeNone.Vaults())
}

func TestProvenance(t *testing.T) {
	vaultTag := NewVaultProvenance("personal", "notes/avl.md", "Trees > AVL")
	assert.Equal(t, ProvenancePersonalVault, vaultTag.Kind)
	assert.Contains(t, vaultTag.String(), "notes/avl.md#Trees > AVL")

	extTag := NewExternalProvenance("https://example.com/paper")
	assert.Equal(t, ProvenanceExternal, extTag.Kind)

	assert.False(t, HasRealSource(nil))
	assert.False(t, HasRealSource([]Provenance{ModelOnly()}))
	assert.True(t, HasRealSource([]Provenance{ModelOnly(), extTag}))
}
