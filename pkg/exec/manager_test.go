package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/pkg/agents"
	"quorum/pkg/config"
	"quorum/pkg/ledger"
	"quorum/pkg/proto"
	"quorum/pkg/provider"
	"quorum/pkg/vault"
)

type stubPlanner struct {
	plan proto.Plan
	err  error
}

func (s *stubPlanner) Plan(string) (proto.Plan, error) { return s.plan, s.err }

type stubRetriever struct {
	chunks []proto.ContextChunk
	err    error
}

func (s *stubRetriever) Retrieve(context.Context, string, proto.RetrievalScope, vault.Filters) ([]proto.ContextChunk, error) {
	return s.chunks, s.err
}

type stubEngine struct {
	err     error
	applied []string
}

func (s *stubEngine) Apply(_ context.Context, _, targetPath string) error {
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, targetPath)
	return nil
}

// execFunc adapts a function to the agent executor contract.
type execFunc struct {
	role proto.AgentRole
	fn   func(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error)
}

func (e *execFunc) Role() proto.AgentRole { return e.role }

func (e *execFunc) Execute(ctx context.Context, input proto.AgentInput) (proto.AgentResult, error) {
	return e.fn(ctx, input)
}

// groundedExec returns output with vault provenance, labeling model-only
// answers when no context arrived.
func groundedExec(role proto.AgentRole, output string) *execFunc {
	return &execFunc{role: role, fn: func(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
		if len(input.Context) == 0 {
			return proto.AgentResult{
				Output:     output + " (" + agents.ModelOnlyLabel + ")",
				Provenance: []proto.Provenance{proto.ModelOnly()},
			}, nil
		}
		sources := make([]proto.Provenance, 0, len(input.Context))
		for i := range input.Context {
			sources = append(sources, input.Context[i].Provenance())
		}
		return proto.AgentResult{Output: output, Provenance: sources}, nil
	}}
}

func singleSubtaskPlan(role proto.AgentRole, scope proto.RetrievalScope) proto.Plan {
	return proto.Plan{Subtasks: []proto.Subtask{
		{AgentRole: role, Goal: "answer the question", RetrievalScope: scope},
	}}
}

type fixture struct {
	manager *Manager
	ledger  *ledger.Ledger
	engine  *stubEngine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	engine := &stubEngine{}
	opts.Ledger = led
	if opts.Retriever == nil {
		opts.Retriever = &stubRetriever{chunks: []proto.ContextChunk{
			{Text: "vault says hello", Vault: "project", FilePath: "notes.md", Score: 0.9},
		}}
	}
	if opts.Engine == nil {
		opts.Engine = engine
	}
	opts.Config = config.DefaultConfig()
	return &fixture{manager: NewManager(opts), ledger: led, engine: engine}
}

func TestSubmitGoalAwaitsApproval(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "hi")},
	})

	task, plan, err := f.manager.SubmitGoal("explain my notes")
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, proto.TaskAwaitingApproval, task.Status)

	stored, err := f.ledger.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskAwaitingApproval, stored.Status)

	storedPlan, err := f.ledger.GetPlan(task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.RoleHumanities, storedPlan.Subtasks[0].AgentRole)
}

func TestRejectPlanCancelsTask(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "hi")},
	})
	task, _, err := f.manager.SubmitGoal("explain my notes")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, outcome.Task.Status)
	assert.Contains(t, outcome.Task.FailReason, string(proto.ReasonCancelled))

	steps, err := f.ledger.StepsForTask(task.ID)
	require.NoError(t, err)
	assert.Empty(t, steps, "rejected plan must never dispatch")
}

func TestApprovePlanRunsToCompletion(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "grounded answer")},
	})
	task, _, err := f.manager.SubmitGoal("explain my notes")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	require.NotNil(t, outcome.Final)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Contains(t, outcome.Final.Text, "grounded answer")
	assert.True(t, proto.HasRealSource(outcome.Final.Sources))

	steps, err := f.ledger.StepsForTask(task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Iteration)
}

func TestDependentSubtasksSequenced(t *testing.T) {
	var order []int
	plan := proto.Plan{Subtasks: []proto.Subtask{
		{AgentRole: proto.RoleQuantitative, Goal: "count things", RetrievalScope: proto.ScopeProject},
		{AgentRole: proto.RoleHumanities, Goal: "explain the count", RetrievalScope: proto.ScopeNone, DependsOn: []int{0}},
	}}
	quant := &execFunc{role: proto.RoleQuantitative, fn: func(_ context.Context, _ proto.AgentInput) (proto.AgentResult, error) {
		order = append(order, 0)
		return proto.AgentResult{Output: "the count is 7", Provenance: []proto.Provenance{proto.NewVaultProvenance("project", "a.md", "")}}, nil
	}}
	hum := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
		order = append(order, 1)
		if len(input.PriorOutputs) != 1 || !strings.Contains(input.PriorOutputs[0], "7") {
			return proto.AgentResult{}, fmt.Errorf("prior output not delivered")
		}
		return proto.AgentResult{Output: "seven items exist (" + agents.ModelOnlyLabel + ")", Provenance: []proto.Provenance{proto.ModelOnly()}}, nil
	}}

	f := newFixture(t, Options{
		Planner: &stubPlanner{plan: plan},
		Executors: map[proto.AgentRole]agents.Executor{
			proto.RoleQuantitative: quant,
			proto.RoleHumanities:   hum,
		},
	})
	task, _, err := f.manager.SubmitGoal("count and explain")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Equal(t, []int{0, 1}, order)
}

func TestNoContextConditionLabelsModelOnly(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "best guess")},
		Retriever: &stubRetriever{},
	})
	task, _, err := f.manager.SubmitGoal("explain my notes on AVL trees")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	require.NotNil(t, outcome.Final)
	assert.Contains(t, strings.ToLower(outcome.Final.Text), "model knowledge only")
	require.Len(t, outcome.Final.Sources, 1)
	assert.Equal(t, proto.ProvenanceModelOnly, outcome.Final.Sources[0].Kind)
}

func TestRetrievalErrorDegradesToModelOnly(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "best guess")},
		Retriever: &stubRetriever{err: &proto.RetrievalError{Vault: "project", Err: fmt.Errorf("index missing")}},
	})
	task, _, err := f.manager.SubmitGoal("explain")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
}

func TestVaultAccessErrorFailsTask(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "x")},
		Retriever: &stubRetriever{err: &proto.VaultAccessError{Vault: "project", Err: fmt.Errorf("not configured")}},
	})
	task, _, err := f.manager.SubmitGoal("explain")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, outcome.Task.Status)
	assert.NotEmpty(t, outcome.Task.FailReason)
}

func TestCritiqueRefinementLoop(t *testing.T) {
	attempts := 0
	exec := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
		attempts++
		src := []proto.Provenance{proto.NewVaultProvenance("project", "a.md", "")}
		if attempts == 1 {
			return proto.AgentResult{Output: "vague answer", Provenance: src}, nil
		}
		if input.RevisionReason == "" {
			return proto.AgentResult{}, fmt.Errorf("revision reason not carried")
		}
		return proto.AgentResult{Output: "the latency figure is 5ms", Provenance: src}, nil
	}}

	plan := singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)
	plan.Subtasks[0].UserConstraints = []string{"mention latency"}
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: plan},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: exec},
	})
	task, _, err := f.manager.SubmitGoal("how slow is it")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Equal(t, 2, attempts)

	steps, err := f.ledger.StepsForTask(task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Iteration)
	assert.Equal(t, 2, steps[1].Iteration)
}

func TestIterationCapFailsTask(t *testing.T) {
	exec := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, _ proto.AgentInput) (proto.AgentResult, error) {
		return proto.AgentResult{
			Output:     "an unrelated reply every time",
			Provenance: []proto.Provenance{proto.NewVaultProvenance("project", "a.md", "")},
		}, nil
	}}
	plan := singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)
	plan.Subtasks[0].UserConstraints = []string{"mention throughput"}
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: plan},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: exec},
	})
	task, _, err := f.manager.SubmitGoal("how fast is it")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, outcome.Task.Status)
	assert.Contains(t, outcome.Task.FailReason, string(proto.ReasonIterationCapExceeded))

	steps, err := f.ledger.StepsForTask(task.ID)
	require.NoError(t, err)
	assert.Len(t, steps, config.DefaultIterationCap, "the attempt past the cap must be blocked")
}

func TestIterationOverrideAllowsFourthAttempt(t *testing.T) {
	attempts := 0
	exec := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, _ proto.AgentInput) (proto.AgentResult, error) {
		attempts++
		src := []proto.Provenance{proto.NewVaultProvenance("project", "a.md", "")}
		if attempts < 4 {
			return proto.AgentResult{Output: "still wrong", Provenance: src}, nil
		}
		return proto.AgentResult{Output: "throughput is 5k/s", Provenance: src}, nil
	}}
	plan := singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)
	plan.Subtasks[0].UserConstraints = []string{"mention throughput"}
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: plan},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: exec},
	})
	task, _, err := f.manager.SubmitGoal("how fast is it")
	require.NoError(t, err)
	require.NoError(t, f.manager.OverrideIterationCap(task.ID))

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Equal(t, 4, attempts)
}

func codeProposer() *execFunc {
	return &execFunc{role: proto.RoleCode, fn: func(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
		return proto.AgentResult{
			Output:     fmt.Sprintf("proposing fix, attempt %d", input.Iteration),
			Provenance: []proto.Provenance{proto.NewVaultProvenance("project", "code.md", "")},
			Proposal: &proto.PatchProposal{
				TargetPath: "main.go",
				DiffText:   "--- a/main.go\n+++ b/main.go\n@@ -1 +1 @@\n-x\n+y\n",
			},
		}, nil
	}}
}

func TestPatchRejectionProducesNewRecord(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleCode, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleCode: codeProposer()},
	})
	task, _, err := f.manager.SubmitGoal("fix the bug")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	require.Len(t, outcome.PendingPatches, 1)
	assert.Equal(t, proto.TaskRunning, outcome.Task.Status)
	first := outcome.PendingPatches[0]
	assert.Equal(t, 1, first.Iteration)

	outcome, err = f.manager.ApprovePatch(context.Background(), first.ID, false)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskRunning, outcome.Task.Status, "task stays running after a rejected patch")
	require.Len(t, outcome.PendingPatches, 1)
	assert.Equal(t, 2, outcome.PendingPatches[0].Iteration, "second proposal is a new record on the next iteration")

	records, err := f.ledger.PatchesForTask(task.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, proto.PatchRejected, records[0].Status)
	assert.Equal(t, proto.PatchProposed, records[1].Status)
}

func TestPatchApprovalAppliesAndCompletes(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleCode, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleCode: codeProposer()},
	})
	task, _, err := f.manager.SubmitGoal("fix the bug")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	require.Len(t, outcome.PendingPatches, 1)

	outcome, err = f.manager.ApprovePatch(context.Background(), outcome.PendingPatches[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Equal(t, []string{"main.go"}, f.engine.applied)

	records, err := f.ledger.PatchesForTask(task.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, proto.PatchApplied, records[0].Status)
}

func TestPatchApplyFailureKeepsTaskRunning(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleCode, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleCode: codeProposer()},
		Engine:    &stubEngine{err: &proto.PatchApplicationError{TargetPath: "main.go", Err: fmt.Errorf("does not apply")}},
	})
	task, _, err := f.manager.SubmitGoal("fix the bug")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	require.Len(t, outcome.PendingPatches, 1)

	outcome, err = f.manager.ApprovePatch(context.Background(), outcome.PendingPatches[0].ID, true)
	var patchErr *proto.PatchApplicationError
	require.ErrorAs(t, err, &patchErr)
	assert.Equal(t, proto.TaskRunning, outcome.Task.Status)
	require.Len(t, outcome.PendingPatches, 1, "subtask proposed again after the failed apply")
	assert.Equal(t, 2, outcome.PendingPatches[0].Iteration)

	records, recErr := f.ledger.PatchesForTask(task.ID)
	require.NoError(t, recErr)
	assert.Equal(t, proto.PatchFailed, records[0].Status)
}

func TestCancelDiscardsInFlightOutput(t *testing.T) {
	var f *fixture
	exec := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, input proto.AgentInput) (proto.AgentResult, error) {
		// Cancellation lands while the call is in flight; the call still
		// finishes normally.
		if err := f.manager.Cancel(input.TaskID); err != nil {
			return proto.AgentResult{}, err
		}
		return proto.AgentResult{
			Output:     "finished after cancel",
			Provenance: []proto.Provenance{proto.NewVaultProvenance("project", "a.md", "")},
		}, nil
	}}
	f = newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: exec},
	})
	task, _, err := f.manager.SubmitGoal("slow question")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, outcome.Task.Status)
	assert.Equal(t, string(proto.ReasonCancelled), outcome.Task.FailReason)

	steps, err := f.ledger.StepsForTask(task.ID)
	require.NoError(t, err)
	assert.Empty(t, steps, "in-flight output must be discarded")
}

func TestCancelAtApprovalGate(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "x")},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(task.ID))
	stored, err := f.ledger.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, stored.Status)
	assert.Equal(t, string(proto.ReasonCancelled), stored.FailReason)

	assert.Error(t, f.manager.Cancel(task.ID), "terminal tasks cannot be cancelled again")
}

func TestProviderFallback(t *testing.T) {
	primary := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, _ proto.AgentInput) (proto.AgentResult, error) {
		return proto.AgentResult{}, provider.NewError("claude", "chat", provider.ErrorTypeTransient, fmt.Errorf("boom"))
	}}
	f := newFixture(t, Options{
		Planner:           &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors:         map[proto.AgentRole]agents.Executor{proto.RoleHumanities: primary},
		FallbackExecutors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "fallback answered")},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskCompleted, outcome.Task.Status)
	assert.Contains(t, outcome.Final.Text, "fallback answered")
}

func TestProviderFailureWithoutFallbackFailsTask(t *testing.T) {
	primary := &execFunc{role: proto.RoleHumanities, fn: func(_ context.Context, _ proto.AgentInput) (proto.AgentResult, error) {
		return proto.AgentResult{}, provider.NewError("claude", "chat", provider.ErrorTypeAuth, fmt.Errorf("boom"))
	}}
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: primary},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)

	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, proto.TaskFailed, outcome.Task.Status)
	assert.Contains(t, outcome.Task.FailReason, string(proto.ReasonProviderFailure))
}

func TestResumeReconstructsPendingApprovals(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleCode, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleCode: codeProposer()},
	})
	task, _, err := f.manager.SubmitGoal("fix the bug")
	require.NoError(t, err)

	state, err := f.manager.Resume(task.ID)
	require.NoError(t, err)
	assert.True(t, state.AwaitingPlan)
	require.NotNil(t, state.Plan)

	_, err = f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)

	state, err = f.manager.Resume(task.ID)
	require.NoError(t, err)
	assert.False(t, state.AwaitingPlan)
	require.Len(t, state.PendingPatches, 1)
	assert.Equal(t, proto.PatchProposed, state.PendingPatches[0].Status)

	tasks, patches, err := f.manager.PendingApprovals()
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.Len(t, patches, 1)
}

func TestResumeCompletedTaskRebuildsAnswer(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "stable answer")},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)
	outcome, err := f.manager.ApprovePlan(context.Background(), task.ID, true)
	require.NoError(t, err)

	state, err := f.manager.Resume(task.ID)
	require.NoError(t, err)
	require.NotNil(t, state.CompletedResult)
	assert.Equal(t, outcome.Final.Text, state.CompletedResult.Text)
}

func TestTaskStatusNeverSkipsApproval(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "x")},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)

	err = f.ledger.TransitionTask(task.ID, proto.TaskCompleted, "")
	assert.ErrorIs(t, err, proto.ErrInvalidTransition)
}

func TestQueryVault(t *testing.T) {
	chunks := []proto.ContextChunk{
		{Text: "a", FilePath: "a.md", Score: 0.9},
		{Text: "b", FilePath: "b.md", Score: 0.8},
		{Text: "c", FilePath: "c.md", Score: 0.7},
	}
	f := newFixture(t, Options{
		Planner:   &stubPlanner{},
		Retriever: &stubRetriever{chunks: chunks},
	})

	got, err := f.manager.QueryVault(context.Background(), proto.ScopeBoth, "anything", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.md", got[0].FilePath)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t, Options{
		Planner:   &stubPlanner{plan: singleSubtaskPlan(proto.RoleHumanities, proto.ScopeProject)},
		Executors: map[proto.AgentRole]agents.Executor{proto.RoleHumanities: groundedExec(proto.RoleHumanities, "x")},
	})
	task, _, err := f.manager.SubmitGoal("question")
	require.NoError(t, err)

	fb, err := f.manager.SubmitFeedback(task.ID, proto.RoleHumanities, 4, "helpful")
	require.NoError(t, err)
	assert.Equal(t, 4, fb.Rating)
}
