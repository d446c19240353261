package exec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quorum/pkg/proto"
	"quorum/pkg/provider"
	"quorum/pkg/synth"
	"quorum/pkg/vault"
)

// Outcome is the result of driving a running task as far as it can go
// without human input. Exactly one of Final or PendingPatches is set when
// the task is still alive; a terminal task carries only Task.
type Outcome struct {
	Task           *proto.Task
	Final          *synth.Result
	PendingPatches []*proto.PatchRecord
}

// errHalted signals that the task reached a terminal status mid-dispatch.
// The ledger already holds the reason; callers report the task, not the
// error.
var errHalted = errors.New("task halted")

// run drives a running task until it completes, fails, or suspends for a
// patch approval. All progress is read back from the ledger each round, so
// run is equally the resume path.
func (m *Manager) run(ctx context.Context, taskID string) (*Outcome, error) {
	plan, err := m.ledger.GetPlan(taskID)
	if err != nil {
		return nil, err
	}

	for {
		task, err := m.ledger.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		if proto.IsTerminalTask(task.Status) {
			return &Outcome{Task: task}, nil
		}

		states, err := m.subtaskStates(taskID, len(plan.Subtasks))
		if err != nil {
			return nil, err
		}
		if pending := pendingPatches(states); len(pending) > 0 {
			m.logger.Info("task %s suspended: %d patch(es) awaiting approval", taskID, len(pending))
			return &Outcome{Task: task, PendingPatches: pending}, nil
		}

		ready := readySubtasks(plan, states)
		if len(ready) == 0 {
			if allDone(states) {
				return m.finalize(taskID)
			}
			return nil, fmt.Errorf("task %s is stuck: no runnable subtasks", taskID)
		}

		if err := m.dispatchWave(ctx, task, plan, states, ready); err != nil {
			if errors.Is(err, errHalted) {
				task, gerr := m.ledger.GetTask(taskID)
				if gerr != nil {
					return nil, gerr
				}
				return &Outcome{Task: task}, nil
			}
			return nil, err
		}
	}
}

// subtaskState is one subtask's progress, reconstructed from the ledger.
type subtaskState struct {
	done    bool
	output  string
	sources []proto.Provenance
	role    proto.AgentRole
	// pending is the unresolved patch record gating this subtask, if any.
	pending *proto.PatchRecord
}

func (m *Manager) subtaskStates(taskID string, n int) ([]subtaskState, error) {
	states := make([]subtaskState, n)

	steps, err := m.ledger.StepsForTask(taskID)
	if err != nil {
		return nil, err
	}
	// Steps are ordered by subtask then iteration; the last one per subtask
	// is the latest attempt.
	for _, step := range steps {
		if step.SubtaskIndex < 0 || step.SubtaskIndex >= n {
			continue
		}
		s := &states[step.SubtaskIndex]
		s.done = true
		s.output = step.Output
		s.sources = step.ContextSources
		s.role = step.AgentRole
	}

	patches, err := m.ledger.PatchesForTask(taskID)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]*proto.PatchRecord)
	for _, rec := range patches {
		latest[rec.SubtaskIndex] = rec
	}
	for idx, rec := range latest {
		if idx < 0 || idx >= n {
			continue
		}
		s := &states[idx]
		switch rec.Status {
		case proto.PatchProposed, proto.PatchApproved:
			s.pending = rec
			s.done = false
		case proto.PatchRejected, proto.PatchFailed:
			// Terminal record without an applied successor: the subtask
			// must propose again.
			s.done = false
		case proto.PatchApplied:
		}
	}
	return states, nil
}

func pendingPatches(states []subtaskState) []*proto.PatchRecord {
	var pending []*proto.PatchRecord
	for i := range states {
		if states[i].pending != nil {
			pending = append(pending, states[i].pending)
		}
	}
	return pending
}

func readySubtasks(plan *proto.Plan, states []subtaskState) []int {
	var ready []int
	for i := range plan.Subtasks {
		if states[i].done || states[i].pending != nil {
			continue
		}
		runnable := true
		for _, dep := range plan.Subtasks[i].DependsOn {
			if !states[dep].done {
				runnable = false
				break
			}
		}
		if runnable {
			ready = append(ready, i)
		}
	}
	return ready
}

func allDone(states []subtaskState) bool {
	for i := range states {
		if !states[i].done {
			return false
		}
	}
	return true
}

// dispatchWave runs the ready subtasks concurrently on the bounded pool.
// The first halt or hard error wins; remaining results land in the ledger
// regardless (or are discarded by its ordering checks if the task died).
func (m *Manager) dispatchWave(ctx context.Context, task *proto.Task, plan *proto.Plan, states []subtaskState, ready []int) error {
	sem := make(chan struct{}, m.workers)
	errs := make([]error, len(ready))
	var wg sync.WaitGroup

	for slot, idx := range ready {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot, idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[slot] = m.runSubtask(ctx, task, plan, states, idx)
		}(slot, idx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runSubtask executes one subtask through the critique refinement loop,
// appending one AgentStep per attempt. Failure paths record a human-readable
// reason on the task and return errHalted.
func (m *Manager) runSubtask(ctx context.Context, task *proto.Task, plan *proto.Plan, states []subtaskState, idx int) error {
	st := plan.Subtasks[idx]
	if _, ok := m.executors[st.AgentRole]; !ok {
		m.failTask(task.ID, fmt.Sprintf("%s: no executor for role %q", proto.ReasonAgentFailure, st.AgentRole))
		return errHalted
	}

	var prior []string
	for _, dep := range st.DependsOn {
		prior = append(prior, states[dep].output)
	}

	revision := ""
	for {
		count, err := m.ledger.IterationCount(task.ID, idx)
		if err != nil {
			return err
		}
		iter := count + 1
		if iter > m.iterationCap {
			fresh, gerr := m.ledger.GetTask(task.ID)
			if gerr != nil {
				return gerr
			}
			if !fresh.IterationOverride {
				m.logger.Warn("task %s subtask %d: attempt %d blocked by iteration cap %d",
					task.ID, idx, iter, m.iterationCap)
				m.failTask(task.ID, string(proto.ReasonIterationCapExceeded))
				return errHalted
			}
		}

		chunks, note, err := m.contextFor(ctx, task.ID, st)
		if err != nil {
			m.failTask(task.ID, fmt.Sprintf("%s: %v", proto.ReasonAgentFailure, err))
			return errHalted
		}

		input := proto.AgentInput{
			TaskID:         task.ID,
			SubtaskIndex:   idx,
			Iteration:      iter,
			Goal:           st.Goal,
			Context:        chunks,
			Constraints:    st.UserConstraints,
			PriorOutputs:   prior,
			RevisionReason: revision,
			ContextNote:    note,
		}

		started := time.Now().UTC()
		result, err := m.execute(ctx, st.AgentRole, input)
		if err != nil {
			reason := proto.ReasonAgentFailure
			if provider.AsError(err) != nil || errors.Is(err, provider.ErrNotConfigured) {
				reason = proto.ReasonProviderFailure
			}
			m.failTask(task.ID, fmt.Sprintf("%s: subtask %d (%s): %v", reason, idx, st.AgentRole, err))
			return errHalted
		}

		step := &proto.AgentStep{
			TaskID:         task.ID,
			SubtaskIndex:   idx,
			Iteration:      iter,
			AgentRole:      st.AgentRole,
			InputMessage:   st.Goal,
			Output:         result.Output,
			ContextSources: result.Provenance,
			StartedAt:      started,
			FinishedAt:     time.Now().UTC(),
		}
		if err := m.ledger.AppendStep(step); err != nil {
			if errors.Is(err, proto.ErrOrdering) {
				// Task went terminal (cancelled) while the call was in
				// flight; discard the output.
				m.logger.Info("task %s subtask %d: output discarded, task is terminal", task.ID, idx)
				return errHalted
			}
			return err
		}

		if result.Proposal != nil {
			if _, err := m.ledger.RecordPatch(task.ID, idx, iter, result.Proposal.TargetPath, result.Proposal.DiffText); err != nil {
				return err
			}
			// The human approval gate takes over from here.
			return nil
		}

		verdict := m.critique.Review(result.Output, result.Provenance, st.UserConstraints, idx)
		if verdict.Accept {
			return nil
		}
		m.logger.Info("task %s subtask %d iteration %d: critique requested revision: %s",
			task.ID, idx, iter, verdict.Reason)
		revision = verdict.Reason
	}
}

// contextFor retrieves vault context for a subtask. A retrieval failure
// degrades to model-only with an explicit note; a misconfigured vault is
// fatal to the subtask.
func (m *Manager) contextFor(ctx context.Context, taskID string, st proto.Subtask) ([]proto.ContextChunk, string, error) {
	if st.RetrievalScope == proto.ScopeNone || st.RetrievalScope == "" {
		return nil, "", nil
	}
	chunks, err := m.retriever.Retrieve(ctx, st.Goal, st.RetrievalScope, vault.Filters{ExcludeTemplates: true})
	if err != nil {
		var accessErr *proto.VaultAccessError
		if errors.As(err, &accessErr) {
			return nil, "", err
		}
		var retrErr *proto.RetrievalError
		if errors.As(err, &retrErr) {
			m.logger.Warn("task %s: retrieval degraded: %v", taskID, err)
			return nil, "retrieval unavailable, answering model-only", nil
		}
		return nil, "", err
	}
	if len(chunks) == 0 {
		return nil, "no relevant vault context found, answering model-only", nil
	}
	return chunks, "", nil
}

// execute runs the role's executor, falling back once on provider failures
// when a fallback chain is configured.
func (m *Manager) execute(ctx context.Context, role proto.AgentRole, input proto.AgentInput) (proto.AgentResult, error) {
	result, err := m.executors[role].Execute(ctx, input)
	if err == nil {
		return result, nil
	}
	if provider.AsError(err) == nil && !errors.Is(err, provider.ErrNotConfigured) {
		return result, err
	}
	fb, ok := m.fallback[role]
	if !ok {
		return result, err
	}
	m.logger.Warn("task %s: primary provider failed for %s, trying fallback: %v", input.TaskID, role, err)
	return fb.Execute(ctx, input)
}

// finalize merges the accepted outputs and completes the task.
func (m *Manager) finalize(taskID string) (*Outcome, error) {
	result, err := m.finalText(taskID)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.TransitionTask(taskID, proto.TaskCompleted, ""); err != nil {
		if errors.Is(err, proto.ErrInvalidTransition) {
			task, gerr := m.ledger.GetTask(taskID)
			if gerr != nil {
				return nil, gerr
			}
			return &Outcome{Task: task}, nil
		}
		return nil, err
	}
	task, err := m.ledger.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("task %s completed (%d sources)", taskID, len(result.Sources))
	return &Outcome{Task: task, Final: result}, nil
}

// finalText rebuilds the synthesized response from the ledger. The merge is
// deterministic, so the completed answer is always reconstructible.
func (m *Manager) finalText(taskID string) (*synth.Result, error) {
	steps, err := m.ledger.StepsForTask(taskID)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]*proto.AgentStep)
	for _, step := range steps {
		latest[step.SubtaskIndex] = step
	}
	indices := make([]int, 0, len(latest))
	for idx := range latest {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	parts := make([]synth.Part, 0, len(indices))
	for _, idx := range indices {
		step := latest[idx]
		parts = append(parts, synth.Part{
			Role:    step.AgentRole,
			Output:  step.Output,
			Sources: step.ContextSources,
		})
	}
	result := synth.Merge(parts)
	return &result, nil
}
