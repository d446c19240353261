package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/pkg/logx"
	"quorum/pkg/proto"
)

// Ledger wraps the sqlite database with the orchestration operations.
// Writes for a given task are serialized (single-writer-per-task); writes
// across tasks proceed independently. The fact store is multi-writer:
// rows are keyed by (key, source_agent) so concurrent sources never
// overwrite each other's claims.
type Ledger struct {
	db     *sql.DB
	logger *logx.Logger

	// taskLocks serializes read-modify-write sequences per task ID.
	taskLocks map[string]*sync.Mutex
	locksMu   sync.Mutex
}

// Open initializes the database at path and returns a ready Ledger.
func Open(path string) (*Ledger, error) {
	db, err := InitializeDatabase(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-initialized database.
func New(db *sql.DB) *Ledger {
	return &Ledger{
		db:        db,
		logger:    logx.NewLogger("ledger"),
		taskLocks: make(map[string]*sync.Mutex),
	}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	return nil
}

// lockTask returns the mutex serializing writes for one task.
func (l *Ledger) lockTask(taskID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.taskLocks[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.taskLocks[taskID] = m
	}
	return m
}

// CreateTask records a new task in status planned.
func (l *Ledger) CreateTask(userQuery string) (*proto.Task, error) {
	task := &proto.Task{
		ID:        proto.GenerateTaskID(),
		UserQuery: userQuery,
		Status:    proto.TaskPlanned,
		CreatedAt: time.Now().UTC(),
	}

	_, err := l.db.Exec(
		`INSERT INTO tasks (id, user_query, status, created_at) VALUES (?, ?, ?, ?)`,
		task.ID, task.UserQuery, string(task.Status), task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	l.logger.Info("task %s created: %q", task.ID, truncate(userQuery, 80))
	return task, nil
}

// GetTask loads a task by ID.
func (l *Ledger) GetTask(taskID string) (*proto.Task, error) {
	row := l.db.QueryRow(
		`SELECT id, user_query, status, fail_reason, iteration_override, created_at FROM tasks WHERE id = ?`,
		taskID,
	)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*proto.Task, error) {
	var task proto.Task
	var status string
	var failReason sql.NullString
	var override int
	err := row.Scan(&task.ID, &task.UserQuery, &status, &failReason, &override, &task.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	task.Status = proto.TaskStatus(status)
	task.FailReason = failReason.String
	task.IterationOverride = override != 0
	return &task, nil
}

// TransitionTask moves a task to a new status, validating the task state
// machine. failReason is recorded when the new status is failed.
func (l *Ledger) TransitionTask(taskID string, newStatus proto.TaskStatus, failReason string) error {
	lock := l.lockTask(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.GetTask(taskID)
	if err != nil {
		return err
	}
	if !proto.CanTransitionTask(task.Status, newStatus) {
		return fmt.Errorf("%w: task %s cannot move %s -> %s",
			proto.ErrInvalidTransition, taskID, task.Status, newStatus)
	}

	_, err = l.db.Exec(
		`UPDATE tasks SET status = ?, fail_reason = ? WHERE id = ?`,
		string(newStatus), nullIfEmpty(failReason), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to transition task %s: %w", taskID, err)
	}

	l.logger.Info("task %s: %s -> %s", taskID, task.Status, newStatus)
	return nil
}

// SetPlan stores the planner's decomposition. Plans may only be written
// before approval (status planned or awaiting_approval).
func (l *Ledger) SetPlan(taskID string, plan *proto.Plan) error {
	lock := l.lockTask(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != proto.TaskPlanned && task.Status != proto.TaskAwaitingApproval {
		return fmt.Errorf("%w: plan for task %s is frozen after approval (status %s)",
			proto.ErrInvalidTransition, taskID, task.Status)
	}

	data, err := proto.MarshalPlan(plan)
	if err != nil {
		return err
	}
	if _, err := l.db.Exec(`UPDATE tasks SET plan_json = ? WHERE id = ?`, data, taskID); err != nil {
		return fmt.Errorf("failed to store plan for task %s: %w", taskID, err)
	}
	return nil
}

// GetPlan loads the stored plan for a task.
func (l *Ledger) GetPlan(taskID string) (*proto.Plan, error) {
	var data sql.NullString
	err := l.db.QueryRow(`SELECT plan_json FROM tasks WHERE id = ?`, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan for task %s: %w", taskID, err)
	}
	if !data.Valid || data.String == "" {
		return nil, fmt.Errorf("task %s has no plan", taskID)
	}
	return proto.UnmarshalPlan(data.String)
}

// SetIterationOverride flags the task as allowed to exceed the refinement
// cap. Only an explicit user action reaches this call.
func (l *Ledger) SetIterationOverride(taskID string) error {
	res, err := l.db.Exec(`UPDATE tasks SET iteration_override = 1 WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to set iteration override for task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return proto.ErrTaskNotFound
	}
	return nil
}

// AppendStep records one agent invocation. Fails with an ordering error if
// the task is terminal. The step's iteration must be strictly greater than
// any existing iteration for the same subtask.
func (l *Ledger) AppendStep(step *proto.AgentStep) error {
	lock := l.lockTask(step.TaskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.GetTask(step.TaskID)
	if err != nil {
		return err
	}
	if proto.IsTerminalTask(task.Status) {
		return fmt.Errorf("%w: cannot append step to terminal task %s (%s)",
			proto.ErrOrdering, step.TaskID, task.Status)
	}

	maxIter, err := l.iterationCountLocked(step.TaskID, step.SubtaskIndex)
	if err != nil {
		return err
	}
	if step.Iteration <= maxIter {
		return fmt.Errorf("%w: step iteration %d not greater than recorded %d for task %s subtask %d",
			proto.ErrOrdering, step.Iteration, maxIter, step.TaskID, step.SubtaskIndex)
	}

	if step.ID == "" {
		step.ID = proto.GenerateStepID()
	}
	sources, err := json.Marshal(step.ContextSources)
	if err != nil {
		return fmt.Errorf("failed to marshal context sources: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO agent_steps
			(id, task_id, subtask_index, iteration, agent_role, input_message, output, context_sources, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.TaskID, step.SubtaskIndex, step.Iteration, string(step.AgentRole),
		step.InputMessage, step.Output, string(sources), step.StartedAt, step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append step for task %s: %w", step.TaskID, err)
	}
	return nil
}

// IterationCount returns the highest recorded iteration for a subtask
// (0 when the subtask has never been dispatched).
func (l *Ledger) IterationCount(taskID string, subtaskIndex int) (int, error) {
	lock := l.lockTask(taskID)
	lock.Lock()
	defer lock.Unlock()
	return l.iterationCountLocked(taskID, subtaskIndex)
}

func (l *Ledger) iterationCountLocked(taskID string, subtaskIndex int) (int, error) {
	var maxIter sql.NullInt64
	err := l.db.QueryRow(
		`SELECT MAX(iteration) FROM agent_steps WHERE task_id = ? AND subtask_index = ?`,
		taskID, subtaskIndex,
	).Scan(&maxIter)
	if err != nil {
		return 0, fmt.Errorf("failed to count iterations for task %s subtask %d: %w", taskID, subtaskIndex, err)
	}
	return int(maxIter.Int64), nil
}

// StepsForTask returns all steps for a task ordered by subtask and iteration.
func (l *Ledger) StepsForTask(taskID string) ([]*proto.AgentStep, error) {
	rows, err := l.db.Query(
		`SELECT id, task_id, subtask_index, iteration, agent_role, input_message, output, context_sources, started_at, finished_at
		 FROM agent_steps WHERE task_id = ? ORDER BY subtask_index, iteration`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps for task %s: %w", taskID, err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var steps []*proto.AgentStep
	for rows.Next() {
		var step proto.AgentStep
		var role, sources string
		if err := rows.Scan(&step.ID, &step.TaskID, &step.SubtaskIndex, &step.Iteration,
			&role, &step.InputMessage, &step.Output, &sources, &step.StartedAt, &step.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.AgentRole = proto.AgentRole(role)
		if sources != "" {
			if err := json.Unmarshal([]byte(sources), &step.ContextSources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context sources: %w", err)
			}
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

// RecordFeedback appends a feedback row. Feedback never mutates historical steps.
func (l *Ledger) RecordFeedback(taskID string, role proto.AgentRole, rating int, comment string) (*proto.Feedback, error) {
	fb := &proto.Feedback{
		ID:        proto.GenerateFeedbackID(),
		TaskID:    taskID,
		AgentRole: role,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	_, err := l.db.Exec(
		`INSERT INTO feedback (id, task_id, agent_role, rating, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.TaskID, string(fb.AgentRole), fb.Rating, fb.Comment, fb.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	return fb, nil
}

// SetFact upserts a shared fact keyed by (key, source_agent). A write with
// the same key and source replaces value and confidence; a different
// source's claim for the same key is retained alongside.
func (l *Ledger) SetFact(key, value, sourceAgent string, confidence float64) error {
	_, err := l.db.Exec(
		`INSERT INTO facts (key, source_agent, value, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key, source_agent) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		key, sourceAgent, value, confidence, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set fact %q from %q: %w", key, sourceAgent, err)
	}
	return nil
}

// GetFacts returns every source's claim for a key.
func (l *Ledger) GetFacts(key string) ([]*proto.Fact, error) {
	rows, err := l.db.Query(
		`SELECT key, source_agent, value, confidence, updated_at FROM facts WHERE key = ? ORDER BY source_agent`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts for %q: %w", key, err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var facts []*proto.Fact
	for rows.Next() {
		var f proto.Fact
		if err := rows.Scan(&f.Key, &f.SourceAgent, &f.Value, &f.Confidence, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return facts, nil
}

// GetFact returns one source's claim for a key, or nil when absent.
func (l *Ledger) GetFact(key, sourceAgent string) (*proto.Fact, error) {
	var f proto.Fact
	err := l.db.QueryRow(
		`SELECT key, source_agent, value, confidence, updated_at FROM facts WHERE key = ? AND source_agent = ?`,
		key, sourceAgent,
	).Scan(&f.Key, &f.SourceAgent, &f.Value, &f.Confidence, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fact %q from %q: %w", key, sourceAgent, err)
	}
	return &f, nil
}

// AllFacts returns the full fact store, ordered by key then source.
func (l *Ledger) AllFacts() ([]proto.Fact, error) {
	rows, err := l.db.Query(
		`SELECT key, source_agent, value, confidence, updated_at FROM facts ORDER BY key, source_agent`)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var facts []proto.Fact
	for rows.Next() {
		var f proto.Fact
		if err := rows.Scan(&f.Key, &f.SourceAgent, &f.Value, &f.Confidence, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return facts, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
