// Package exec is the execution manager: the single owner of task status
// transitions. It plans submitted goals, gates them behind explicit human
// approval, dispatches subtasks to agents on a bounded worker pool, drives the
// critique refinement loop against the ledger's iteration counter, and
// suspends at every approval boundary so a restarted process can resume from
// the ledger alone.
package exec

import (
	"context"
	"errors"
	"fmt"

	"quorum/pkg/agents"
	"quorum/pkg/config"
	"quorum/pkg/ledger"
	"quorum/pkg/logx"
	"quorum/pkg/patch"
	"quorum/pkg/proto"
	"quorum/pkg/synth"
	"quorum/pkg/vault"
)

// Retriever is the slice of the vault coordinator the manager needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope proto.RetrievalScope, filters vault.Filters) ([]proto.ContextChunk, error)
}

// GoalPlanner decomposes a user goal into a plan.
type GoalPlanner interface {
	Plan(userQuery string) (proto.Plan, error)
}

// Options wires the manager's collaborators.
type Options struct {
	Ledger    *ledger.Ledger
	Planner   GoalPlanner
	Executors map[proto.AgentRole]agents.Executor
	// FallbackExecutors, when non-nil, are tried once after a provider
	// failure on the primary.
	FallbackExecutors map[proto.AgentRole]agents.Executor
	Retriever         Retriever
	Engine            patch.Engine
	Critique          *agents.CritiqueAgent
	Config            config.Config
	Logger            *logx.Logger
}

// Manager coordinates the full task lifecycle.
type Manager struct {
	ledger    *ledger.Ledger
	planner   GoalPlanner
	executors map[proto.AgentRole]agents.Executor
	fallback  map[proto.AgentRole]agents.Executor
	retriever Retriever
	engine    patch.Engine
	critique  *agents.CritiqueAgent
	logger    *logx.Logger

	iterationCap int
	workers      int
}

// NewManager creates an execution manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("exec")
	}
	critique := opts.Critique
	if critique == nil {
		critique = &agents.CritiqueAgent{}
	}
	workers := opts.Config.Execution.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	if workers > config.MaxWorkers {
		workers = config.MaxWorkers
	}
	iterationCap := opts.Config.Execution.IterationCap
	if iterationCap <= 0 {
		iterationCap = config.DefaultIterationCap
	}
	return &Manager{
		ledger:       opts.Ledger,
		planner:      opts.Planner,
		executors:    opts.Executors,
		fallback:     opts.FallbackExecutors,
		retriever:    opts.Retriever,
		engine:       opts.Engine,
		critique:     critique,
		logger:       logger,
		iterationCap: iterationCap,
		workers:      workers,
	}
}

// SubmitGoal creates a task, plans it, and parks it awaiting approval. No
// agent runs before the caller approves the plan.
func (m *Manager) SubmitGoal(userQuery string) (*proto.Task, *proto.Plan, error) {
	task, err := m.ledger.CreateTask(userQuery)
	if err != nil {
		return nil, nil, err
	}

	plan, err := m.planner.Plan(userQuery)
	if err != nil {
		if terr := m.ledger.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""); terr == nil {
			m.failTask(task.ID, fmt.Sprintf("%s: planning failed: %v", proto.ReasonAgentFailure, err))
		}
		return nil, nil, fmt.Errorf("planning failed: %w", err)
	}
	if err := m.ledger.SetPlan(task.ID, &plan); err != nil {
		return nil, nil, err
	}
	if err := m.ledger.TransitionTask(task.ID, proto.TaskAwaitingApproval, ""); err != nil {
		return nil, nil, err
	}
	task.Status = proto.TaskAwaitingApproval
	m.logger.Info("task %s awaiting plan approval (%d subtasks)", task.ID, len(plan.Subtasks))
	return task, &plan, nil
}

// ApprovePlan resolves the plan-approval suspension point. Rejection is a
// cancellation at the approval gate: the task fails with reason Cancelled.
// Approval moves the task to running and executes it; the returned outcome is
// either the finalized response or a new suspension (patch approval).
func (m *Manager) ApprovePlan(ctx context.Context, taskID string, approve bool) (*Outcome, error) {
	if !approve {
		reason := fmt.Sprintf("%s: plan rejected", proto.ReasonCancelled)
		if err := m.ledger.TransitionTask(taskID, proto.TaskFailed, reason); err != nil {
			return nil, err
		}
		task, err := m.ledger.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Task: task}, nil
	}
	if err := m.ledger.TransitionTask(taskID, proto.TaskRunning, ""); err != nil {
		return nil, err
	}
	return m.run(ctx, taskID)
}

// ApprovePatch resolves a patch-approval suspension point. Approval applies
// the diff through the engine; an application or verification failure fails
// the patch record but keeps the task running. Rejection is terminal for the
// record. Either way the originating subtask is re-dispatched for a fresh
// proposal, subject to the iteration cap.
func (m *Manager) ApprovePatch(ctx context.Context, patchID string, approve bool) (*Outcome, error) {
	rec, err := m.ledger.GetPatch(patchID)
	if err != nil {
		return nil, err
	}

	if !approve {
		if err := m.ledger.TransitionPatch(patchID, proto.PatchRejected); err != nil {
			return nil, err
		}
		m.logger.Info("patch %s rejected, subtask %d will propose again", patchID, rec.SubtaskIndex)
		return m.run(ctx, rec.TaskID)
	}

	if err := m.ledger.TransitionPatch(patchID, proto.PatchApproved); err != nil {
		return nil, err
	}
	applyErr := m.engine.Apply(ctx, rec.DiffText, rec.TargetPath)
	if applyErr != nil {
		if err := m.ledger.TransitionPatch(patchID, proto.PatchFailed); err != nil {
			return nil, err
		}
		m.logger.Warn("patch %s failed to apply: %v", patchID, applyErr)
		outcome, runErr := m.run(ctx, rec.TaskID)
		if runErr != nil {
			return nil, runErr
		}
		return outcome, applyErr
	}
	if err := m.ledger.TransitionPatch(patchID, proto.PatchApplied); err != nil {
		return nil, err
	}
	return m.run(ctx, rec.TaskID)
}

// OverrideIterationCap lets one task exceed the refinement cap. Explicit
// user action only.
func (m *Manager) OverrideIterationCap(taskID string) error {
	return m.ledger.SetIterationOverride(taskID)
}

// QueryVault is the direct retrieval entry point: no task, no agents.
func (m *Manager) QueryVault(ctx context.Context, scope proto.RetrievalScope, query string, topK int) ([]proto.ContextChunk, error) {
	chunks, err := m.retriever.Retrieve(ctx, query, scope, vault.Filters{})
	if err != nil {
		return nil, err
	}
	if topK > 0 && len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

// SubmitFeedback records a user rating of one role's handling of a task.
func (m *Manager) SubmitFeedback(taskID string, role proto.AgentRole, rating int, comment string) (*proto.Feedback, error) {
	return m.ledger.RecordFeedback(taskID, role, rating, comment)
}

// Cancel stops a task cooperatively. The ledger transition happens now;
// an in-flight agent call finishes but its append hits a terminal task and
// the output is discarded.
func (m *Manager) Cancel(taskID string) error {
	task, err := m.ledger.GetTask(taskID)
	if err != nil {
		return err
	}
	if proto.IsTerminalTask(task.Status) {
		return fmt.Errorf("%w: task %s already %s", proto.ErrInvalidTransition, taskID, task.Status)
	}
	if task.Status == proto.TaskPlanned {
		if err := m.ledger.TransitionTask(taskID, proto.TaskAwaitingApproval, ""); err != nil {
			return err
		}
	}
	return m.ledger.TransitionTask(taskID, proto.TaskFailed, string(proto.ReasonCancelled))
}

// ResumeState is everything a restarted process needs to pick a task back
// up, reconstructed purely from the ledger.
type ResumeState struct {
	Task            *proto.Task
	Plan            *proto.Plan
	AwaitingPlan    bool
	PendingPatches  []*proto.PatchRecord
	CompletedResult *synth.Result
}

// Resume rebuilds the pending-approval state of one task.
func (m *Manager) Resume(taskID string) (*ResumeState, error) {
	task, err := m.ledger.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	state := &ResumeState{Task: task}
	if plan, planErr := m.ledger.GetPlan(taskID); planErr == nil {
		state.Plan = plan
	}

	switch task.Status {
	case proto.TaskAwaitingApproval:
		state.AwaitingPlan = true
	case proto.TaskRunning:
		patches, err := m.ledger.PatchesForTask(taskID)
		if err != nil {
			return nil, err
		}
		for _, rec := range patches {
			if rec.Status == proto.PatchProposed || rec.Status == proto.PatchApproved {
				state.PendingPatches = append(state.PendingPatches, rec)
			}
		}
	case proto.TaskCompleted:
		result, err := m.finalText(taskID)
		if err != nil {
			return nil, err
		}
		state.CompletedResult = result
	}
	return state, nil
}

// PendingApprovals lists every open suspension point across all tasks.
func (m *Manager) PendingApprovals() ([]*proto.Task, []*proto.PatchRecord, error) {
	tasks, err := m.ledger.TasksAwaitingApproval()
	if err != nil {
		return nil, nil, err
	}
	patches, err := m.ledger.PendingPatches()
	if err != nil {
		return nil, nil, err
	}
	return tasks, patches, nil
}

func (m *Manager) failTask(taskID, reason string) {
	if err := m.ledger.TransitionTask(taskID, proto.TaskFailed, reason); err != nil &&
		!errors.Is(err, proto.ErrInvalidTransition) {
		m.logger.Error("task %s: could not record failure %q: %v", taskID, reason, err)
	}
}
