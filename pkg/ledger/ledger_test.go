package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/pkg/proto"
)

// newTestLedger creates a fresh on-disk ledger for each test.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newStep(taskID string, subtask, iteration int, role proto.AgentRole) *proto.AgentStep {
	now := time.Now().UTC()
	return &proto.AgentStep{
		TaskID:       taskID,
		SubtaskIndex: subtask,
		Iteration:    iteration,
		AgentRole:    role,
		InputMessage: "goal",
		Output:       "result",
		StartedAt:    now,
		FinishedAt:   now,
	}
}

func TestTaskLifecycle(t *testing.T) {
	l := newTestLedger(t)

	task, err := l.CreateTask("explain my notes on AVL trees")
	require.NoError(t, err)
	assert.Equal(t, proto.TaskPlanned, task.Status)

	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskCompleted, ""))

	got, err := l.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, got.Status)
}

func TestTaskTransitionRejectsSkipsAndBackwardMoves(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)

	// Skipping awaiting_approval is rejected.
	err = l.TransitionTask(task.ID, proto.TaskRunning, "")
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)

	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))

	// No backward transitions.
	err = l.TransitionTask(task.ID, proto.TaskAwaitingApproval, "")
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)
}

func TestFailedTaskCarriesReason(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskFailed, string(proto.ReasonCancelled)))

	got, err := l.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", got.FailReason)
}

func TestPlanStorageFreezesAfterApproval(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)

	plan := &proto.Plan{Subtasks: []proto.Subtask{
		{AgentRole: proto.RoleHumanities, Goal: "summarize", RetrievalScope: proto.ScopeBoth},
	}}
	require.NoError(t, l.SetPlan(task.ID, plan))

	got, err := l.GetPlan(task.ID)
	require.NoError(t, err)
	assert.Equal(t, plan, got)

	// Revision is still allowed while awaiting approval.
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	plan.Subtasks[0].Goal = "summarize briefly"
	require.NoError(t, l.SetPlan(task.ID, plan))

	// Frozen once running.
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))
	err = l.SetPlan(task.ID, plan)
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)
}

func TestAppendStepOrdering(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))

	require.NoError(t, l.AppendStep(newStep(task.ID, 0, 1, proto.RoleCode)))
	require.NoError(t, l.AppendStep(newStep(task.ID, 0, 2, proto.RoleCode)))

	// Iterations must be strictly increasing per subtask.
	err = l.AppendStep(newStep(task.ID, 0, 2, proto.RoleCode))
	assert.ErrorIs(t, err, proto.ErrOrdering)

	// A different subtask has its own counter.
	require.NoError(t, l.AppendStep(newStep(task.ID, 1, 1, proto.RoleSearch)))

	count, err := l.IterationCount(task.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Terminal task refuses new steps.
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskCompleted, ""))
	err = l.AppendStep(newStep(task.ID, 0, 3, proto.RoleCode))
	assert.ErrorIs(t, err, proto.ErrOrdering)
}

func TestStepProvenanceRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))

	step := newStep(task.ID, 0, 1, proto.RoleHumanities)
	step.ContextSources = []proto.Provenance{
		proto.NewVaultProvenance("project", "notes/avl.md", "Trees > AVL"),
		proto.NewExternalProvenance("https://example.com"),
	}
	require.NoError(t, l.AppendStep(step))

	steps, err := l.StepsForTask(task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, step.ContextSources, steps[0].ContextSources)
}

func TestFactUpsertSemantics(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.SetFact("limit", "50", "search", 0.9))
	require.NoError(t, l.SetFact("limit", "75", "search", 0.95))

	// Same key + source: exactly one fact, latest value wins.
	fact, err := l.GetFact("limit", "search")
	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.Equal(t, "75", fact.Value)

	// Different source for the same key coexists.
	require.NoError(t, l.SetFact("limit", "100", "planner", 0.5))
	facts, err := l.GetFacts("limit")
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	// Unknown fact is nil, not an error.
	missing, err := l.GetFact("limit", "critique")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFeedbackAppend(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)

	fb, err := l.RecordFeedback(task.ID, proto.RoleCode, 4, "good diff")
	require.NoError(t, err)
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, 4, fb.Rating)
}

func TestPatchLifecycle(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))

	patch, err := l.RecordPatch(task.ID, 0, 1, "main.go", "--- a/main.go\n+++ b/main.go\n")
	require.NoError(t, err)
	assert.Equal(t, proto.PatchProposed, patch.Status)

	// proposed -> applied directly is invalid.
	err = l.TransitionPatch(patch.ID, proto.PatchApplied)
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)

	require.NoError(t, l.TransitionPatch(patch.ID, proto.PatchApproved))
	require.NoError(t, l.TransitionPatch(patch.ID, proto.PatchApplied))

	got, err := l.GetPatch(patch.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.PatchApplied, got.Status)
	require.NotNil(t, got.AppliedAt)

	// Terminal patch refuses further transitions.
	err = l.TransitionPatch(patch.ID, proto.PatchFailed)
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)
}

func TestPatchRejectionLeavesTaskRunning(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.CreateTask("q")
	require.NoError(t, err)
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskRunning, ""))

	first, err := l.RecordPatch(task.ID, 0, 1, "main.go", "diff-1")
	require.NoError(t, err)
	require.NoError(t, l.TransitionPatch(first.ID, proto.PatchRejected))

	got, err := l.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskRunning, got.Status)

	// Retry is a new record with the next iteration.
	second, err := l.RecordPatch(task.ID, 0, 2, "main.go", "diff-2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Iteration)

	patches, err := l.PatchesForTask(task.ID)
	require.NoError(t, err)
	assert.Len(t, patches, 2)
}

func TestResumptionQueries(t *testing.T) {
	l := newTestLedger(t)

	task, err := l.CreateTask("pending plan")
	require.NoError(t, err)
	plan := &proto.Plan{Subtasks: []proto.Subtask{
		{AgentRole: proto.RoleCode, Goal: "refactor", RetrievalScope: proto.ScopeProject},
	}}
	require.NoError(t, l.SetPlan(task.ID, plan))
	require.NoError(t, l.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""))

	// Simulate a restart: a fresh Ledger over the same file sees the
	// suspended approval.
	reopened := New(l.db)
	awaiting, err := reopened.TasksAwaitingApproval()
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, task.ID, awaiting[0].ID)

	restored, err := reopened.GetPlan(task.ID)
	require.NoError(t, err)
	assert.Equal(t, plan, restored)
}

func TestUnknownIDs(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.GetTask("nope")
	assert.ErrorIs(t, err, proto.ErrTaskNotFound)

	_, err = l.GetPatch("nope")
	assert.ErrorIs(t, err, proto.ErrPatchNotFound)

	err = l.TransitionTask("nope", proto.TaskAwaitingApproval, "")
	assert.ErrorIs(t, err, proto.ErrTaskNotFound)
}
